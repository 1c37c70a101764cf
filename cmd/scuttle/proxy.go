package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cuemby/scuttle/pkg/client"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/spf13/cobra"
)

// Proxy commands
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manage egress proxies",
}

var proxyAddCmd = &cobra.Command{
	Use:   "add ADDRESS",
	Short: "Register an egress proxy",
	Long: `Register an egress proxy. Credentials are stored encrypted when the
manager runs with store.encryption_key set, and never returned by the
admin API.

Examples:
  scuttle proxy add 10.0.0.1 --port 8080 --username crawler --password s3cret
  scuttle proxy add gw.provider.net --port 1080 --protocol socks5 --geo us`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		port, _ := cmd.Flags().GetInt("port")
		protocol, _ := cmd.Flags().GetString("protocol")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		geo, _ := cmd.Flags().GetString("geo")
		perHourCap, _ := cmd.Flags().GetInt("per-hour-cap")
		inactive, _ := cmd.Flags().GetBool("inactive")

		created, err := c.CreateProxy(&types.Proxy{
			Address:    args[0],
			Port:       port,
			Protocol:   types.ProxyProtocol(protocol),
			Username:   username,
			Password:   password,
			Geo:        geo,
			PerHourCap: perHourCap,
			Active:     !inactive,
		})
		if err != nil {
			return fmt.Errorf("failed to add proxy: %v", err)
		}

		fmt.Printf("✓ Proxy added: %s (ID: %s)\n", created.Endpoint(), created.ID)
		return nil
	},
}

var proxyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proxies",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		proxies, err := c.ListProxies()
		if err != nil {
			return fmt.Errorf("failed to list proxies: %v", err)
		}
		if len(proxies) == 0 {
			fmt.Println("No proxies registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENDPOINT\tPROTOCOL\tACTIVE\tSUCCESS\tFAILURES\tAVG MS\tGEO")
		for _, p := range proxies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d\t%.0f\t%s\n",
				shortID(p.ID), p.Endpoint(), p.Protocol, p.Active,
				p.SuccessCount, p.FailureCount, p.AvgLatencyMS, p.Geo)
		}
		return w.Flush()
	},
}

var proxyBindCmd = &cobra.Command{
	Use:   "bind HOST PROXY",
	Short: "Attach a proxy to a host",
	Long: `Attach a proxy to a host so the allocator can lease it for that host's
crawls. PROXY is an ID or an address:port endpoint.

Examples:
  scuttle proxy bind shop.example.com 10.0.0.1:8080 --priority 1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		host, err := c.GetHost(args[0])
		if err != nil {
			return err
		}
		p, err := resolveProxy(c, args[1])
		if err != nil {
			return err
		}
		priority, _ := cmd.Flags().GetInt("priority")

		if _, err := c.BindProxy(host.ID, p.ID, priority); err != nil {
			return fmt.Errorf("failed to bind proxy: %v", err)
		}
		fmt.Printf("✓ Proxy %s bound to %s\n", p.Endpoint(), host.Name)
		return nil
	},
}

var proxyUnbindCmd = &cobra.Command{
	Use:   "unbind HOST PROXY",
	Short: "Detach a proxy from a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		host, err := c.GetHost(args[0])
		if err != nil {
			return err
		}
		p, err := resolveProxy(c, args[1])
		if err != nil {
			return err
		}

		if err := c.UnbindProxy(host.ID, p.ID); err != nil {
			return fmt.Errorf("failed to unbind proxy: %v", err)
		}
		fmt.Printf("✓ Proxy %s unbound from %s\n", p.Endpoint(), host.Name)
		return nil
	},
}

var proxyStatsCmd = &cobra.Command{
	Use:   "stats HOST",
	Short: "Show per-binding health for a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		host, err := c.GetHost(args[0])
		if err != nil {
			return err
		}
		stats, err := c.ProxyStats(host.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch stats: %v", err)
		}
		if len(stats) == 0 {
			fmt.Printf("No proxies bound to %s\n", host.Name)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tACTIVE\tSUCCESS\tFAILURES\tAVG MS\tLAST USED")
		for _, s := range stats {
			active := s.Active && s.ProxyActive
			lastUsed := "-"
			if s.LastUsedAt != nil {
				lastUsed = fmtTime(*s.LastUsedAt)
			}
			fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%.0f\t%s\n",
				s.Endpoint, active, s.SuccessCount, s.FailureCount, s.AvgLatencyMS, lastUsed)
		}
		return w.Flush()
	},
}

var proxyProbeCmd = &cobra.Command{
	Use:   "probe PROXY",
	Short: "Dial a proxy once and report reachability",
	Long: `Dial the proxy endpoint once and report reachability. The probe leaves
success and failure counters untouched, so it is safe to run before
returning a disabled proxy to rotation. Exits non-zero when the proxy
is unreachable.

Examples:
  scuttle proxy probe 10.0.0.1:8080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		p, err := resolveProxy(c, args[0])
		if err != nil {
			return err
		}
		probe, err := c.ProbeProxy(p.ID)
		if err != nil {
			return fmt.Errorf("failed to probe proxy: %v", err)
		}

		if !probe.Reachable {
			return fmt.Errorf("proxy %s unreachable: %s", probe.Endpoint, probe.Message)
		}
		fmt.Printf("✓ Proxy %s reachable (%dms)\n", probe.Endpoint, probe.LatencyMS)
		return nil
	},
}

var proxyEnableCmd = &cobra.Command{
	Use:   "enable PROXY",
	Short: "Return a proxy to rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  proxyActiveRunE(true),
}

var proxyDisableCmd = &cobra.Command{
	Use:   "disable PROXY",
	Short: "Pull a proxy from rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  proxyActiveRunE(false),
}

var proxyRmCmd = &cobra.Command{
	Use:   "rm PROXY",
	Short: "Delete a proxy and its bindings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		p, err := resolveProxy(c, args[0])
		if err != nil {
			return err
		}
		if err := c.DeleteProxy(p.ID); err != nil {
			return fmt.Errorf("failed to delete proxy: %v", err)
		}
		fmt.Printf("✓ Proxy deleted: %s\n", p.Endpoint())
		return nil
	},
}

func init() {
	proxyCmd.AddCommand(proxyAddCmd)
	proxyCmd.AddCommand(proxyListCmd)
	proxyCmd.AddCommand(proxyBindCmd)
	proxyCmd.AddCommand(proxyUnbindCmd)
	proxyCmd.AddCommand(proxyStatsCmd)
	proxyCmd.AddCommand(proxyProbeCmd)
	proxyCmd.AddCommand(proxyEnableCmd)
	proxyCmd.AddCommand(proxyDisableCmd)
	proxyCmd.AddCommand(proxyRmCmd)
	rootCmd.AddCommand(proxyCmd)

	proxyAddCmd.Flags().Int("port", 0, "Proxy port (required)")
	proxyAddCmd.Flags().String("protocol", "", "http, https or socks5 (default http)")
	proxyAddCmd.Flags().String("username", "", "Auth username")
	proxyAddCmd.Flags().String("password", "", "Auth password")
	proxyAddCmd.Flags().String("geo", "", "Geo label for routing decisions")
	proxyAddCmd.Flags().Int("per-hour-cap", 0, "Requests-per-hour budget, 0 = unlimited")
	proxyAddCmd.Flags().Bool("inactive", false, "Register without entering rotation")
	proxyAddCmd.MarkFlagRequired("port")

	proxyBindCmd.Flags().Int("priority", 0, "Binding priority, lower is preferred")
}

// resolveProxy accepts a proxy ID or an address:port endpoint.
func resolveProxy(c *client.Client, ref string) (*types.Proxy, error) {
	if !strings.Contains(ref, ":") {
		p, err := c.GetProxy(ref)
		if err != nil {
			return nil, fmt.Errorf("proxy %q: %v", ref, err)
		}
		return p, nil
	}

	proxies, err := c.ListProxies()
	if err != nil {
		return nil, err
	}
	for _, p := range proxies {
		if p.Endpoint() == ref {
			return p, nil
		}
	}
	return nil, fmt.Errorf("proxy %q: no proxy with that endpoint", ref)
}

func proxyActiveRunE(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		p, err := resolveProxy(c, args[0])
		if err != nil {
			return err
		}
		if active {
			p, err = c.EnableProxy(p.ID)
		} else {
			p, err = c.DisableProxy(p.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update proxy: %v", err)
		}

		state := "disabled"
		if p.Active {
			state = "enabled"
		}
		fmt.Printf("✓ Proxy %s %s\n", p.Endpoint(), state)
		return nil
	}
}
