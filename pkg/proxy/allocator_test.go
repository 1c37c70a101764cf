package proxy

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, broker *events.Broker) (*Allocator, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	alloc := NewAllocator(store, broker, storage.OutcomePolicy{
		BindingFailureThreshold: 2,
		GlobalFailureThreshold:  4,
		ReenableGrace:           time.Minute,
	})
	return alloc, store
}

func seedHost(t *testing.T, store storage.Store, name string) *types.Host {
	t.Helper()
	host := &types.Host{
		ID:     uuid.New().String(),
		Name:   name,
		Active: true,
	}
	require.NoError(t, store.CreateHost(host))
	return host
}

func seedProxy(t *testing.T, store storage.Store, endpoint string) *types.Proxy {
	t.Helper()
	address, portStr, err := net.SplitHostPort(endpoint)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	proxy := &types.Proxy{
		ID:      uuid.New().String(),
		Address: address,
		Port:    port,
		Active:  true,
	}
	require.NoError(t, store.CreateProxy(proxy))
	return proxy
}

func TestAllocatorBindAndAcquire(t *testing.T) {
	alloc, store := newTestAllocator(t, nil)
	host := seedHost(t, store, "shop.example.com")
	proxy := seedProxy(t, store, "p1.proxies.net:8080")

	binding, err := alloc.Bind(host.ID, proxy.ID, 0)
	require.NoError(t, err)
	assert.True(t, binding.Active)

	// Duplicate pair is rejected
	_, err = alloc.Bind(host.ID, proxy.ID, 0)
	assert.True(t, errdefs.IsDuplicate(err))

	lease, err := alloc.Acquire(host.ID)
	require.NoError(t, err)
	assert.Equal(t, binding.ID, lease.BindingID)
	assert.Equal(t, proxy.ID, lease.Proxy.ID)
}

func TestAllocatorAcquireErrors(t *testing.T) {
	alloc, store := newTestAllocator(t, nil)

	// Unknown host
	_, err := alloc.Acquire("no-such-host")
	assert.True(t, errdefs.IsNotFound(err))

	// Host without bindings
	host := seedHost(t, store, "bare.example.com")
	_, err = alloc.Acquire(host.ID)
	assert.True(t, errdefs.IsNoProxyAvailable(err))
}

func TestAllocatorBindBulkSkipsExisting(t *testing.T) {
	alloc, store := newTestAllocator(t, nil)
	host := seedHost(t, store, "shop.example.com")
	p1 := seedProxy(t, store, "p1.proxies.net:8080")
	p2 := seedProxy(t, store, "p2.proxies.net:8080")

	_, err := alloc.Bind(host.ID, p1.ID, 0)
	require.NoError(t, err)

	result, err := alloc.BindBulk(host.ID, []string{p1.ID, p2.ID, "no-such-proxy"})
	require.NoError(t, err)

	require.Len(t, result.Bound, 1)
	assert.Equal(t, p2.ID, result.Bound[0].ProxyID)

	require.Len(t, result.Skipped, 2)
	assert.Equal(t, p1.ID, result.Skipped[0].ProxyID)
	assert.Equal(t, "no-such-proxy", result.Skipped[1].ProxyID)

	// Missing host fails the whole call
	_, err = alloc.BindBulk("no-such-host", []string{p1.ID})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAllocatorReleaseExhaustsBinding(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	alloc, store := newTestAllocator(t, broker)
	host := seedHost(t, store, "shop.example.com")
	proxy := seedProxy(t, store, "p1.proxies.net:8080")
	_, err := alloc.Bind(host.ID, proxy.ID, 0)
	require.NoError(t, err)

	lease, err := alloc.Acquire(host.ID)
	require.NoError(t, err)

	// Two consecutive failures hit the binding threshold
	require.NoError(t, alloc.Release(lease.BindingID, types.ProxyOutcome{Success: false, Reason: "connect timeout"}))
	require.NoError(t, alloc.Release(lease.BindingID, types.ProxyOutcome{Success: false, Reason: "connect timeout"}))

	_, err = alloc.Acquire(host.ID)
	assert.True(t, errdefs.IsNoProxyAvailable(err))

	// The exhaustion event went out
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub:
			if event.Type == events.EventBindingExhausted {
				assert.Equal(t, lease.BindingID, event.Metadata["binding_id"])
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for binding.exhausted event")
		}
	}
}

func TestAllocatorReleaseSuccessHeals(t *testing.T) {
	alloc, store := newTestAllocator(t, nil)
	host := seedHost(t, store, "shop.example.com")
	proxy := seedProxy(t, store, "p1.proxies.net:8080")
	_, err := alloc.Bind(host.ID, proxy.ID, 0)
	require.NoError(t, err)

	lease, err := alloc.Acquire(host.ID)
	require.NoError(t, err)

	// One failure, then a success zeroes the consecutive counter
	require.NoError(t, alloc.Release(lease.BindingID, types.ProxyOutcome{Success: false, Reason: "502"}))
	require.NoError(t, alloc.Release(lease.BindingID, types.ProxyOutcome{Success: true, LatencyMS: 120}))
	require.NoError(t, alloc.Release(lease.BindingID, types.ProxyOutcome{Success: false, Reason: "502"}))

	// Still one short of the threshold
	_, err = alloc.Acquire(host.ID)
	require.NoError(t, err)

	binding, err := store.GetBinding(lease.BindingID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), binding.SuccessCount)
	assert.Equal(t, 1, binding.FailureCount)
	assert.Equal(t, float64(120), binding.AvgLatencyMS)
}

func TestAllocatorUnbind(t *testing.T) {
	alloc, store := newTestAllocator(t, nil)
	host := seedHost(t, store, "shop.example.com")
	proxy := seedProxy(t, store, "p1.proxies.net:8080")
	_, err := alloc.Bind(host.ID, proxy.ID, 0)
	require.NoError(t, err)

	require.NoError(t, alloc.Unbind(host.ID, proxy.ID))

	_, err = alloc.Acquire(host.ID)
	assert.True(t, errdefs.IsNoProxyAvailable(err))

	err = alloc.Unbind(host.ID, proxy.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAllocatorStats(t *testing.T) {
	alloc, store := newTestAllocator(t, nil)
	host := seedHost(t, store, "shop.example.com")
	p1 := seedProxy(t, store, "p1.proxies.net:8080")
	p2 := seedProxy(t, store, "p2.proxies.net:8080")

	b1, err := alloc.Bind(host.ID, p1.ID, 0)
	require.NoError(t, err)
	_, err = alloc.Bind(host.ID, p2.ID, 0)
	require.NoError(t, err)

	require.NoError(t, alloc.Release(b1.ID, types.ProxyOutcome{Success: true, LatencyMS: 250}))

	stats, err := alloc.Stats(host.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byProxy := make(map[string]types.BindingStats)
	for _, s := range stats {
		byProxy[s.ProxyID] = s
	}

	assert.Equal(t, int64(1), byProxy[p1.ID].SuccessCount)
	assert.Equal(t, float64(250), byProxy[p1.ID].AvgLatencyMS)
	assert.Equal(t, "p1.proxies.net:8080", byProxy[p1.ID].Endpoint)
	assert.True(t, byProxy[p1.ID].ProxyActive)
	assert.Equal(t, int64(0), byProxy[p2.ID].SuccessCount)
}
