package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/scuttle/pkg/client"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scuttle",
	Short: "Scuttle - distributed crawl orchestration",
	Long: `Scuttle coordinates a fleet of crawl workers: it persists crawl tasks,
schedules them under priority and recurrence rules, rotates per-host
proxies with health accounting, and retries failures with exponential
backoff.

One binary runs the manager ('scuttle server'); the same binary drives
it from the command line over the HTTP API.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Scuttle version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manager", envOr("SCUTTLE_MANAGER", "localhost:8080"), "Manager API address")
	rootCmd.PersistentFlags().String("token", os.Getenv("SCUTTLE_TOKEN"), "Bearer token for API authentication")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newAPIClient builds a client from the global --manager/--token flags.
func newAPIClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("manager")
	token, _ := cmd.Flags().GetString("token")
	c, err := client.NewClientWithToken(addr, token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manager: %v", err)
	}
	return c, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Scuttle version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show entity counts from the manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		counts, err := c.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Hosts:    %d\n", counts.Hosts)
		fmt.Printf("Proxies:  %d\n", counts.Proxies)
		fmt.Printf("Bindings: %d\n", counts.Bindings)
		fmt.Println("Tasks:")
		for _, status := range types.AllTaskStatuses {
			if n := counts.TasksByStatus[status]; n > 0 {
				fmt.Printf("  %-13s %d\n", status, n)
			}
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream lifecycle events from the manager",
	Long: `Stream lifecycle events from the manager until interrupted.

Examples:
  # Follow everything the manager emits
  scuttle events

  # Against a remote manager
  scuttle events --manager crawl-1.internal:8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stream, err := c.WatchEvents(ctx)
		if err != nil {
			return err
		}
		for event := range stream {
			fmt.Printf("%s  %-22s %s\n",
				event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
		}
		return nil
	},
}
