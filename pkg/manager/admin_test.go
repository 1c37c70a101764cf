package manager

import (
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHostValidation(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	cases := []struct {
		name string
		host types.Host
	}{
		{"missing name", types.Host{BaseURL: "https://a.example.com", ParserTag: "p"}},
		{"missing base_url", types.Host{Name: "a.example.com", ParserTag: "p"}},
		{"missing parser_tag", types.Host{Name: "a.example.com", BaseURL: "https://a.example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := tc.host
			_, err := m.CreateHost(&host)
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}

	createHost(t, m, "shop.example.com")
	_, err := m.CreateHost(&types.Host{
		Name:      "shop.example.com",
		BaseURL:   "https://other.example.com",
		ParserTag: "p",
	})
	assert.True(t, errdefs.IsDuplicate(err))
}

func TestUpdateHostPreservesCreatedAt(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	created := host.CreatedAt

	host.ParserTag = "product_v3"
	host.CreatedAt = time.Time{} // stale caller copy must not win
	updated, err := m.UpdateHost(host)
	require.NoError(t, err)
	assert.Equal(t, "product_v3", updated.ParserTag)
	assert.True(t, updated.CreatedAt.Equal(created))

	host.Name = ""
	_, err = m.UpdateHost(host)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestSetHostActive(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")

	disabled, err := m.SetHostActive(host.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Active)

	// Setting the flag to its current value is a no-op, not an error.
	again, err := m.SetHostActive(host.ID, false)
	require.NoError(t, err)
	assert.False(t, again.Active)

	got, err := m.GetHost(host.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = m.SetHostActive("missing", true)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteHostRefusedWithLiveTasks(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	err = m.DeleteHost(host.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsIllegalTransition(err))

	_, err = m.CancelTask(task.ID)
	require.NoError(t, err)

	require.NoError(t, m.DeleteHost(host.ID))
	_, err = m.GetHost(host.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCreateProxyDefaults(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	p, err := m.CreateProxy(&types.Proxy{Address: "10.0.0.1", Port: 8080, Active: true})
	require.NoError(t, err)
	assert.Equal(t, types.ProxyProtocolHTTP, p.Protocol)
	assert.NotEmpty(t, p.ID)

	_, err = m.CreateProxy(&types.Proxy{Port: 8080})
	assert.True(t, errdefs.IsInvalidArgument(err))
	_, err = m.CreateProxy(&types.Proxy{Address: "10.0.0.2"})
	assert.True(t, errdefs.IsInvalidArgument(err))
	_, err = m.CreateProxy(&types.Proxy{Address: "10.0.0.2", Port: 70000})
	assert.True(t, errdefs.IsInvalidArgument(err))
	_, err = m.CreateProxy(&types.Proxy{Address: "10.0.0.2", Port: 8080, Protocol: "carrier-pigeon"})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestUpdateProxyPreservesHealth(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	p, err := m.CreateProxy(&types.Proxy{Address: "10.0.0.1", Port: 8080, Active: true})
	require.NoError(t, err)

	// Simulate accumulated runtime health.
	seeded, err := store.GetProxy(p.ID)
	require.NoError(t, err)
	seeded.SuccessCount = 42
	seeded.FailureCount = 2
	seeded.AvgLatencyMS = 310.5
	require.NoError(t, store.UpdateProxy(seeded))

	updated, err := m.UpdateProxy(&types.Proxy{
		ID:       p.ID,
		Address:  "10.0.0.99",
		Port:     3128,
		Protocol: types.ProxyProtocolHTTP,
		Active:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.99", updated.Address)
	assert.Equal(t, int64(42), updated.SuccessCount)
	assert.Equal(t, 2, updated.FailureCount)
	assert.InDelta(t, 310.5, updated.AvgLatencyMS, 0.001)
	assert.True(t, updated.CreatedAt.Equal(p.CreatedAt))
}

func TestSetProxyActiveClearsFailures(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	p, err := m.CreateProxy(&types.Proxy{Address: "10.0.0.1", Port: 8080, Active: true})
	require.NoError(t, err)

	disabled, err := m.SetProxyActive(p.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Active)
	require.NotNil(t, disabled.DisabledAt)

	seeded, err := store.GetProxy(p.ID)
	require.NoError(t, err)
	seeded.FailureCount = 7
	require.NoError(t, store.UpdateProxy(seeded))

	enabled, err := m.SetProxyActive(p.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.Active)
	assert.Zero(t, enabled.FailureCount, "manual enable resets the failure streak")
	assert.Nil(t, enabled.DisabledAt)
}

func TestDeleteProxyCascadesBindings(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	p, err := m.CreateProxy(&types.Proxy{Address: "10.0.0.1", Port: 8080, Active: true})
	require.NoError(t, err)
	_, err = m.BindProxy(host.ID, p.ID, 1)
	require.NoError(t, err)

	require.NoError(t, m.DeleteProxy(p.ID))

	stats, err := m.ProxyStats(host.ID)
	require.NoError(t, err)
	assert.Empty(t, stats)
	_, err = m.GetProxy(p.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestBindUnbindProxy(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	p, err := m.CreateProxy(&types.Proxy{Address: "10.0.0.1", Port: 8080, Active: true})
	require.NoError(t, err)

	binding, err := m.BindProxy(host.ID, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, binding.Priority)
	assert.True(t, binding.Active)

	_, err = m.BindProxy(host.ID, p.ID, 2)
	assert.True(t, errdefs.IsDuplicate(err))

	require.NoError(t, m.UnbindProxy(host.ID, p.ID))
	stats, err := m.ProxyStats(host.ID)
	require.NoError(t, err)
	assert.Empty(t, stats)

	err = m.UnbindProxy(host.ID, p.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAcquireReleaseProxy(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	p, err := m.CreateProxy(&types.Proxy{Address: "10.0.0.1", Port: 8080, Active: true})
	require.NoError(t, err)
	_, err = m.BindProxy(host.ID, p.ID, 1)
	require.NoError(t, err)

	lease, err := m.AcquireProxy(host.ID)
	require.NoError(t, err)
	require.NotNil(t, lease.Proxy)
	assert.Equal(t, p.ID, lease.Proxy.ID)

	require.NoError(t, m.ReleaseProxy(lease.BindingID, types.ProxyOutcome{Success: true, LatencyMS: 120}))

	stats, err := m.ProxyStats(host.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].SuccessCount)
	assert.Zero(t, stats[0].FailureCount)
}
