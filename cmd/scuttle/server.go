package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/scuttle/pkg/api"
	"github.com/cuemby/scuttle/pkg/blob"
	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/dispatcher"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/health"
	"github.com/cuemby/scuttle/pkg/log"
	"github.com/cuemby/scuttle/pkg/manager"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/security"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Scuttle manager",
	Long: `Run the Scuttle manager: the task store, dispatcher, queue janitor and
HTTP API in one process.

Replicas may run against the same Redis broker; they coordinate through
compare-and-swap on the shared task store, so no replica needs to know
about the others.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringP("config", "c", "", "YAML config file (built-in defaults apply when omitted)")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.LoadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	metrics.SetVersion(Version)

	fmt.Println("Starting Scuttle manager...")
	fmt.Printf("  Data Directory: %s\n", cfg.Store.Path)
	fmt.Printf("  Broker: %v\n", cfg.Broker.Addrs)
	fmt.Printf("  API Address: %s\n", cfg.API.ListenAddr)
	fmt.Println()

	if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	if cfg.Store.EncryptionKey != "" {
		enc, err := security.NewEncryptorFromPassword(cfg.Store.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to init credential encryption: %v", err)
		}
		store.WithEncryptor(enc)
		fmt.Println("✓ Credential encryption enabled")
	}

	blobs, err := blob.NewLocalStore(filepath.Join(cfg.Store.Path, "blobs"))
	if err != nil {
		return fmt.Errorf("failed to open blob store: %v", err)
	}

	redisClient, err := broker.NewClient(cfg.Broker)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %v", err)
	}
	queues := broker.New(redisClient, cfg.Broker)
	queues.Start()
	defer queues.Close()
	defer queues.Stop()
	fmt.Println("✓ Broker connected, janitor started")

	eventBroker := events.NewBroker()
	eventBroker.Start()
	defer eventBroker.Stop()

	allocator := proxy.NewAllocator(store, eventBroker, storage.OutcomePolicy{
		BindingFailureThreshold: cfg.Proxy.BindingFailureThreshold,
		GlobalFailureThreshold:  cfg.Proxy.GlobalFailureThreshold,
		ReenableGrace:           cfg.Proxy.ReenableGrace,
	})
	mgr := manager.New(store, allocator, blobs, eventBroker, cfg)

	disp := dispatcher.NewDispatcher(store, queues, eventBroker, cfg)
	disp.Start()
	defer disp.Stop()
	fmt.Println("✓ Dispatcher started")

	collector := metrics.NewCollector(store, queues, []string{
		string(broker.QueueCrawl), string(broker.QueueParse), string(broker.QueuePriority),
	})
	collector.Start()
	defer collector.Stop()

	storeCheck := health.NewStoreChecker(store)
	brokerCheck := health.NewBrokerChecker(queues)

	// Background checks keep the component registry current even when
	// nothing polls readyz.
	monitor := health.NewMonitor(func(component string, status health.Status) {
		metrics.UpdateComponent(component, status.Healthy, status.LastResult.Message)
	})
	monitor.Register("store", storeCheck, health.DefaultConfig())
	monitor.Register("broker", brokerCheck, health.DefaultConfig())
	monitor.Start()
	defer monitor.Stop()

	apiServer := api.NewServer(mgr, []health.Checker{storeCheck, brokerCheck}, cfg.API)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("✓ API listening on %s\n", cfg.API.ListenAddr)
		fmt.Println()
		fmt.Println("Manager is running. Press Ctrl+C to stop.")
		return apiServer.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
