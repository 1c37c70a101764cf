// Package framework runs the full orchestration stack in-process for
// integration tests: a bolt store in a temp dir, a miniredis-backed
// broker, the event broker, the proxy allocator, the manager, and on
// request the dispatcher loop. Nothing is mocked; tests drive the same
// code paths the server command wires together.
package framework

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuemby/scuttle/pkg/blob"
	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/dispatcher"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/manager"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Harness owns one in-process stack. Construct with New; every component
// is torn down through t.Cleanup in reverse construction order.
type Harness struct {
	T      testing.TB
	Config *config.Config

	Store     *storage.BoltStore
	Blobs     *blob.LocalStore
	Broker    *broker.RedisBroker
	Events    *events.Broker
	Allocator *proxy.Allocator
	Manager   *manager.Manager

	dispatcher *dispatcher.Dispatcher
}

// New builds a stack sized for tests. The dispatcher ticks every 20ms so
// "after one dispatcher round" is observable within a waiter timeout;
// state deadlines and backoff keep their production-scale defaults until
// a test shrinks them through mutate.
func New(t testing.TB, mutate func(*config.Config)) *Harness {
	t.Helper()

	cfg := config.Default()
	cfg.Dispatcher.Interval = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	cfg.Broker.Addrs = []string{mr.Addr()}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { client.Close() })
	queues := broker.New(client, cfg.Broker)

	eventBroker := events.NewBroker()
	eventBroker.Start()
	t.Cleanup(eventBroker.Stop)

	allocator := proxy.NewAllocator(store, eventBroker, storage.OutcomePolicy{
		BindingFailureThreshold: cfg.Proxy.BindingFailureThreshold,
		GlobalFailureThreshold:  cfg.Proxy.GlobalFailureThreshold,
		ReenableGrace:           cfg.Proxy.ReenableGrace,
	})

	return &Harness{
		T:         t,
		Config:    cfg,
		Store:     store,
		Blobs:     blobs,
		Broker:    queues,
		Events:    eventBroker,
		Allocator: allocator,
		Manager:   manager.New(store, allocator, blobs, eventBroker, cfg),
	}
}

// StartDispatcher begins the dispatch loop. Tests that drive transitions
// by hand leave it off so rounds cannot race the assertions.
func (h *Harness) StartDispatcher() {
	h.T.Helper()
	if h.dispatcher != nil {
		return
	}
	h.dispatcher = dispatcher.NewDispatcher(h.Store, h.Broker, h.Events, h.Config)
	h.dispatcher.Start()
	h.T.Cleanup(h.dispatcher.Stop)
}

// Consumer returns a started consumer on the queue, stopped at cleanup.
func (h *Harness) Consumer(q broker.Queue, name string) *broker.Consumer {
	h.T.Helper()
	c, err := h.Broker.Consumer(q, name)
	require.NoError(h.T, err)
	require.NoError(h.T, c.Start(h.Context()))
	h.T.Cleanup(c.Stop)
	return c
}

// SeedHost creates an active host with test-friendly settings. mutate
// adjusts the row before it is stored.
func (h *Harness) SeedHost(name string, mutate func(*types.Host)) *types.Host {
	h.T.Helper()
	host := &types.Host{
		Name:      name,
		BaseURL:   "https://" + name,
		ParserTag: "catalog-v1",
		Active:    true,
	}
	if mutate != nil {
		mutate(host)
	}
	created, err := h.Manager.CreateHost(host)
	require.NoError(h.T, err)
	return created
}

// SeedProxy creates an active proxy on the given endpoint.
func (h *Harness) SeedProxy(address string, port int) *types.Proxy {
	h.T.Helper()
	created, err := h.Manager.CreateProxy(&types.Proxy{
		Address:  address,
		Port:     port,
		Protocol: types.ProxyProtocolHTTP,
		Active:   true,
	})
	require.NoError(h.T, err)
	return created
}
