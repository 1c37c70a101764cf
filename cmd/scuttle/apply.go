package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/scuttle/pkg/client"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply Scuttle resources from a YAML file. The file may hold several
documents separated by ---; each is applied in order, so a Host can be
declared before the Bindings and TaskBatches that reference it.

Examples:
  # Apply a host definition
  scuttle apply -f host.yaml

  # Apply a full crawl setup (host, proxies, bindings, seed tasks)
  scuttle apply -f crawl-config.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// resource is the generic manifest envelope; Spec stays raw until the
// kind is known.
type resource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   resourceMetadata `yaml:"metadata"`
	Spec       yaml.Node        `yaml:"spec"`
}

type resourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type hostSpec struct {
	BaseURL      string        `yaml:"baseURL"`
	Parser       string        `yaml:"parser"`
	MinSpacing   time.Duration `yaml:"minSpacing"`
	MaxInFlight  int           `yaml:"maxInFlight"`
	Interval     time.Duration `yaml:"interval"`
	UserAgent    string        `yaml:"userAgent"`
	RobotsPolicy string        `yaml:"robotsPolicy"`
	Active       *bool         `yaml:"active"`
}

type proxySpec struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	Protocol   string `yaml:"protocol"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Geo        string `yaml:"geo"`
	PerHourCap int    `yaml:"perHourCap"`
	Active     *bool  `yaml:"active"`
}

type bindingSpec struct {
	Host     string `yaml:"host"`
	Proxy    string `yaml:"proxy"`
	Priority int    `yaml:"priority"`
}

type taskBatchSpec struct {
	Host       string        `yaml:"host"`
	URLs       []string      `yaml:"urls"`
	Priority   int           `yaml:"priority"`
	Recurring  bool          `yaml:"recurring"`
	Interval   time.Duration `yaml:"interval"`
	MaxRetries *int          `yaml:"maxRetries"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	dec := yaml.NewDecoder(f)
	applied := 0
	for {
		var res resource
		if err := dec.Decode(&res); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if res.Kind == "" {
			continue
		}
		if err := applyResource(c, &res); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		return fmt.Errorf("no resources found in %s", filename)
	}
	return nil
}

func applyResource(c *client.Client, res *resource) error {
	switch res.Kind {
	case "Host":
		return applyHost(c, res)
	case "Proxy":
		return applyProxy(c, res)
	case "Binding":
		return applyBinding(c, res)
	case "TaskBatch":
		return applyTaskBatch(c, res)
	default:
		return fmt.Errorf("unsupported resource kind: %s", res.Kind)
	}
}

func applyHost(c *client.Client, res *resource) error {
	name := res.Metadata.Name
	var spec hostSpec
	if err := res.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("host %s: invalid spec: %v", name, err)
	}
	if name == "" {
		return fmt.Errorf("host name is required")
	}
	if spec.Parser == "" {
		return fmt.Errorf("host %s: parser is required", name)
	}

	existing, err := c.GetHost(name)
	if err == nil {
		// Host exists, update it in place.
		fmt.Printf("Updating host: %s\n", name)
		existing.BaseURL = spec.BaseURL
		existing.ParserTag = spec.Parser
		existing.MinSpacing = spec.MinSpacing
		existing.MaxInFlight = spec.MaxInFlight
		existing.DefaultInterval = spec.Interval
		existing.UserAgent = spec.UserAgent
		existing.RobotsPolicy = spec.RobotsPolicy
		if spec.Active != nil {
			existing.Active = *spec.Active
		}
		if _, err := c.UpdateHost(existing); err != nil {
			return fmt.Errorf("failed to update host: %v", err)
		}
		fmt.Printf("✓ Host updated: %s\n", name)
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to look up host %s: %v", name, err)
	}

	fmt.Printf("Creating host: %s\n", name)
	host, err := c.CreateHost(&types.Host{
		Name:            name,
		BaseURL:         spec.BaseURL,
		ParserTag:       spec.Parser,
		MinSpacing:      spec.MinSpacing,
		MaxInFlight:     spec.MaxInFlight,
		DefaultInterval: spec.Interval,
		UserAgent:       spec.UserAgent,
		RobotsPolicy:    spec.RobotsPolicy,
		Active:          spec.Active == nil || *spec.Active,
	})
	if err != nil {
		return fmt.Errorf("failed to create host: %v", err)
	}
	fmt.Printf("✓ Host created: %s (ID: %s)\n", name, host.ID)
	return nil
}

func applyProxy(c *client.Client, res *resource) error {
	var spec proxySpec
	if err := res.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("proxy %s: invalid spec: %v", res.Metadata.Name, err)
	}
	if spec.Address == "" || spec.Port == 0 {
		return fmt.Errorf("proxy %s: address and port are required", res.Metadata.Name)
	}

	// Proxies have no name; identity is the address:port endpoint.
	endpoint := fmt.Sprintf("%s:%d", spec.Address, spec.Port)
	existing, err := findProxyByEndpoint(c, endpoint)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Printf("Updating proxy: %s\n", endpoint)
		existing.Protocol = types.ProxyProtocol(spec.Protocol)
		existing.Username = spec.Username
		existing.Password = spec.Password
		existing.Geo = spec.Geo
		existing.PerHourCap = spec.PerHourCap
		if spec.Active != nil {
			existing.Active = *spec.Active
		}
		if _, err := c.UpdateProxy(existing); err != nil {
			return fmt.Errorf("failed to update proxy: %v", err)
		}
		fmt.Printf("✓ Proxy updated: %s\n", endpoint)
		return nil
	}

	fmt.Printf("Creating proxy: %s\n", endpoint)
	created, err := c.CreateProxy(&types.Proxy{
		Address:    spec.Address,
		Port:       spec.Port,
		Protocol:   types.ProxyProtocol(spec.Protocol),
		Username:   spec.Username,
		Password:   spec.Password,
		Geo:        spec.Geo,
		PerHourCap: spec.PerHourCap,
		Active:     spec.Active == nil || *spec.Active,
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy: %v", err)
	}
	fmt.Printf("✓ Proxy created: %s (ID: %s)\n", endpoint, created.ID)
	return nil
}

func applyBinding(c *client.Client, res *resource) error {
	var spec bindingSpec
	if err := res.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("binding %s: invalid spec: %v", res.Metadata.Name, err)
	}
	if spec.Host == "" || spec.Proxy == "" {
		return fmt.Errorf("binding %s: host and proxy are required", res.Metadata.Name)
	}

	host, err := c.GetHost(spec.Host)
	if err != nil {
		return fmt.Errorf("binding %s: %v", res.Metadata.Name, err)
	}
	p, err := resolveProxy(c, spec.Proxy)
	if err != nil {
		return fmt.Errorf("binding %s: %v", res.Metadata.Name, err)
	}

	if _, err := c.BindProxy(host.ID, p.ID, spec.Priority); err != nil {
		if errdefs.IsDuplicate(err) {
			fmt.Printf("Binding already exists: %s -> %s (skipping)\n", host.Name, p.Endpoint())
			return nil
		}
		return fmt.Errorf("failed to bind proxy: %v", err)
	}
	fmt.Printf("✓ Proxy %s bound to %s\n", p.Endpoint(), host.Name)
	return nil
}

func applyTaskBatch(c *client.Client, res *resource) error {
	name := res.Metadata.Name
	var spec taskBatchSpec
	if err := res.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("task batch %s: invalid spec: %v", name, err)
	}
	if spec.Host == "" {
		return fmt.Errorf("task batch %s: host is required", name)
	}
	if len(spec.URLs) == 0 {
		return fmt.Errorf("task batch %s: urls is required", name)
	}

	host, err := c.GetHost(spec.Host)
	if err != nil {
		return fmt.Errorf("task batch %s: %v", name, err)
	}

	fmt.Printf("Submitting task batch: %s (%d URLs)\n", name, len(spec.URLs))
	result, err := c.SubmitTasksBulk(host.ID, spec.URLs, types.TaskOptions{
		Priority:    spec.Priority,
		IsRecurring: spec.Recurring,
		Interval:    spec.Interval,
		MaxRetries:  spec.MaxRetries,
		CreatedBy:   "apply",
	})
	if err != nil {
		return fmt.Errorf("failed to submit batch: %v", err)
	}

	fmt.Printf("✓ Task batch %s: %d submitted", name, len(result.Inserted))
	if len(result.Duplicates) > 0 {
		fmt.Printf(", %d duplicates skipped", len(result.Duplicates))
	}
	if len(result.Invalid) > 0 {
		fmt.Printf(", %d invalid", len(result.Invalid))
	}
	fmt.Println()
	for _, inv := range result.Invalid {
		fmt.Printf("  invalid: %s (%s)\n", inv.URL, inv.Reason)
	}
	return nil
}

func findProxyByEndpoint(c *client.Client, endpoint string) (*types.Proxy, error) {
	proxies, err := c.ListProxies()
	if err != nil {
		return nil, fmt.Errorf("failed to list proxies: %v", err)
	}
	for _, p := range proxies {
		if p.Endpoint() == endpoint {
			return p, nil
		}
	}
	return nil, nil
}
