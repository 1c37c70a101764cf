package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/scuttle/pkg/types"
	"github.com/spf13/cobra"
)

// Host commands
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage crawl target hosts",
}

var hostAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a crawl target",
	Long: `Register a crawl target. The name must be unique and is usually the
site's domain.

Examples:
  scuttle host add shop.example.com \
    --base-url https://shop.example.com \
    --parser product_v2 \
    --interval 24h --min-spacing 2s --max-in-flight 4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		baseURL, _ := cmd.Flags().GetString("base-url")
		parserTag, _ := cmd.Flags().GetString("parser")
		minSpacing, _ := cmd.Flags().GetDuration("min-spacing")
		maxInFlight, _ := cmd.Flags().GetInt("max-in-flight")
		interval, _ := cmd.Flags().GetDuration("interval")
		userAgent, _ := cmd.Flags().GetString("user-agent")
		inactive, _ := cmd.Flags().GetBool("inactive")

		host, err := c.CreateHost(&types.Host{
			Name:            args[0],
			BaseURL:         baseURL,
			ParserTag:       parserTag,
			MinSpacing:      minSpacing,
			MaxInFlight:     maxInFlight,
			DefaultInterval: interval,
			UserAgent:       userAgent,
			Active:          !inactive,
		})
		if err != nil {
			return fmt.Errorf("failed to add host: %v", err)
		}

		fmt.Printf("✓ Host added: %s (ID: %s)\n", host.Name, host.ID)
		return nil
	},
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		hosts, err := c.ListHosts()
		if err != nil {
			return fmt.Errorf("failed to list hosts: %v", err)
		}
		if len(hosts) == 0 {
			fmt.Println("No hosts registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPARSER\tACTIVE\tINTERVAL\tBASE URL")
		for _, host := range hosts {
			interval := "-"
			if host.DefaultInterval > 0 {
				interval = host.DefaultInterval.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
				shortID(host.ID), host.Name, host.ParserTag, host.Active, interval, host.BaseURL)
		}
		return w.Flush()
	},
}

var hostGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a host",
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

		fmt.Printf("ID:            %s\n", host.ID)
		fmt.Printf("Name:          %s\n", host.Name)
		fmt.Printf("Base URL:      %s\n", host.BaseURL)
		fmt.Printf("Parser:        %s\n", host.ParserTag)
		fmt.Printf("Active:        %v\n", host.Active)
		if host.MinSpacing > 0 {
			fmt.Printf("Min spacing:   %s\n", host.MinSpacing)
		}
		if host.MaxInFlight > 0 {
			fmt.Printf("Max in-flight: %d\n", host.MaxInFlight)
		}
		if host.DefaultInterval > 0 {
			fmt.Printf("Interval:      %s\n", host.DefaultInterval)
		}
		if host.UserAgent != "" {
			fmt.Printf("User agent:    %s\n", host.UserAgent)
		}
		fmt.Printf("Created:       %s\n", fmtTime(host.CreatedAt))
		return nil
	},
}

var hostEnableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Make a host eligible for dispatch",
	Args:  cobra.ExactArgs(1),
	RunE:  hostActiveRunE(true),
}

var hostDisableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Stop dispatching for a host",
	Args:  cobra.ExactArgs(1),
	RunE:  hostActiveRunE(false),
}

var hostRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete a host and its proxy bindings",
	Long: `Delete a host and its proxy bindings. Refused while the host still has
tasks in flight; cancel or let them finish first.`,
	Args: cobra.ExactArgs(1),
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
		if err := c.DeleteHost(host.ID); err != nil {
			return fmt.Errorf("failed to delete host: %v", err)
		}
		fmt.Printf("✓ Host deleted: %s\n", host.Name)
		return nil
	},
}

func init() {
	hostCmd.AddCommand(hostAddCmd)
	hostCmd.AddCommand(hostListCmd)
	hostCmd.AddCommand(hostGetCmd)
	hostCmd.AddCommand(hostEnableCmd)
	hostCmd.AddCommand(hostDisableCmd)
	hostCmd.AddCommand(hostRmCmd)
	rootCmd.AddCommand(hostCmd)

	hostAddCmd.Flags().String("base-url", "", "Site root URL (required)")
	hostAddCmd.Flags().String("parser", "", "Parser tag workers apply to this host's pages (required)")
	hostAddCmd.Flags().Duration("min-spacing", 0, "Minimum delay between requests to this host")
	hostAddCmd.Flags().Int("max-in-flight", 0, "Cap on concurrent crawls against this host")
	hostAddCmd.Flags().Duration("interval", 0, "Default recurrence interval for recurring tasks")
	hostAddCmd.Flags().String("user-agent", "", "User-Agent workers send to this host")
	hostAddCmd.Flags().Bool("inactive", false, "Register without enabling dispatch")
	hostAddCmd.MarkFlagRequired("base-url")
	hostAddCmd.MarkFlagRequired("parser")
}

func hostActiveRunE(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		host, err := c.GetHost(args[0])
		if err != nil {
			return err
		}
		if active {
			host, err = c.EnableHost(host.ID)
		} else {
			host, err = c.DisableHost(host.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update host: %v", err)
		}

		state := "disabled"
		if host.Active {
			state = "enabled"
		}
		fmt.Printf("✓ Host %s %s\n", host.Name, state)
		return nil
	}
}
