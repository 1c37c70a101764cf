package integration

import (
	"testing"

	"github.com/cuemby/scuttle/pkg/types"
	"github.com/cuemby/scuttle/test/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acquire(t *testing.T, h *framework.Harness, hostID string) *types.ProxyLease {
	t.Helper()
	lease, err := h.Manager.AcquireProxy(hostID)
	require.NoError(t, err)
	return lease
}

func releaseOK(t *testing.T, h *framework.Harness, lease *types.ProxyLease) {
	t.Helper()
	require.NoError(t, h.Manager.ReleaseProxy(lease.BindingID, types.ProxyOutcome{
		Success:   true,
		LatencyMS: 40,
	}))
}

// The allocator rotates bindings least-recently-used first, with a binding
// that has never been leased treated as older than any stamp.
func TestProxyLeastRecentlyUsed(t *testing.T) {
	h := framework.New(t, nil)
	host := h.SeedHost("h.example", nil)

	p1 := h.SeedProxy("p1.proxies.net", 8080)
	p2 := h.SeedProxy("p2.proxies.net", 8080)
	p3 := h.SeedProxy("p3.proxies.net", 8080)

	// Stagger the stamps: bind and lease P1 first, then P2, so P1 carries
	// the oldest last-used mark. P3 is bound last and never leased.
	_, err := h.Manager.BindProxy(host.ID, p1.ID, 0)
	require.NoError(t, err)
	lease := acquire(t, h, host.ID)
	require.Equal(t, p1.ID, lease.Proxy.ID)
	releaseOK(t, h, lease)

	_, err = h.Manager.BindProxy(host.ID, p2.ID, 0)
	require.NoError(t, err)
	lease = acquire(t, h, host.ID)
	require.Equal(t, p2.ID, lease.Proxy.ID, "an unleased binding outranks any stamp")
	releaseOK(t, h, lease)

	_, err = h.Manager.BindProxy(host.ID, p3.ID, 0)
	require.NoError(t, err)

	// P1 stamped earliest, P2 after it, P3 never: P3 goes first.
	lease = acquire(t, h, host.ID)
	assert.Equal(t, p3.ID, lease.Proxy.ID)
	releaseOK(t, h, lease)

	// Then the oldest stamp: P1, and after it P2.
	lease = acquire(t, h, host.ID)
	assert.Equal(t, p1.ID, lease.Proxy.ID)

	lease = acquire(t, h, host.ID)
	assert.Equal(t, p2.ID, lease.Proxy.ID)
}
