package storage

import (
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/security"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOutcomePolicy = OutcomePolicy{
	BindingFailureThreshold: 5,
	GlobalFailureThreshold:  10,
	ReenableGrace:           5 * time.Minute,
}

func TestAcquireProxyLRUOrder(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	p1 := seedProxy(t, store, "10.0.0.1", 3128)
	p2 := seedProxy(t, store, "10.0.0.2", 3128)
	p3 := seedProxy(t, store, "10.0.0.3", 3128)

	b1 := seedBinding(t, store, host.ID, p1.ID)
	used1 := now.Add(-30 * time.Minute)
	b1.LastUsedAt = &used1
	require.NoError(t, store.UpdateBinding(b1))

	b2 := seedBinding(t, store, host.ID, p2.ID)
	used2 := now.Add(-25 * time.Minute)
	b2.LastUsedAt = &used2
	require.NoError(t, store.UpdateBinding(b2))

	// b3 has never been used and must win the first acquire.
	seedBinding(t, store, host.ID, p3.ID)

	lease, err := store.AcquireProxyForHost(host.ID, now, testOutcomePolicy.BindingFailureThreshold)
	require.NoError(t, err)
	assert.Equal(t, p3.ID, lease.Proxy.ID, "never-used binding sorts first")

	lease, err = store.AcquireProxyForHost(host.ID, now.Add(time.Second), testOutcomePolicy.BindingFailureThreshold)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, lease.Proxy.ID, "oldest last_used_at goes next")

	lease, err = store.AcquireProxyForHost(host.ID, now.Add(2*time.Second), testOutcomePolicy.BindingFailureThreshold)
	require.NoError(t, err)
	assert.Equal(t, p2.ID, lease.Proxy.ID)

	// Full rotation: everyone has been touched, so the first pick comes
	// around again.
	lease, err = store.AcquireProxyForHost(host.ID, now.Add(3*time.Second), testOutcomePolicy.BindingFailureThreshold)
	require.NoError(t, err)
	assert.Equal(t, p3.ID, lease.Proxy.ID)
}

func TestAcquireProxySkipsUnhealthy(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	// Binding over the failure threshold.
	exhausted := seedProxy(t, store, "10.0.0.1", 3128)
	be := seedBinding(t, store, host.ID, exhausted.ID)
	be.FailureCount = 5
	require.NoError(t, store.UpdateBinding(be))

	// Admin-disabled binding.
	disabledBinding := seedProxy(t, store, "10.0.0.2", 3128)
	bd := seedBinding(t, store, host.ID, disabledBinding.ID)
	bd.Active = false
	require.NoError(t, store.UpdateBinding(bd))

	// Globally disabled proxy.
	disabledProxy := seedProxy(t, store, "10.0.0.3", 3128)
	disabledProxy.Active = false
	require.NoError(t, store.UpdateProxy(disabledProxy))
	seedBinding(t, store, host.ID, disabledProxy.ID)

	healthy := seedProxy(t, store, "10.0.0.4", 3128)
	seedBinding(t, store, host.ID, healthy.ID)

	lease, err := store.AcquireProxyForHost(host.ID, now, testOutcomePolicy.BindingFailureThreshold)
	require.NoError(t, err)
	assert.Equal(t, healthy.ID, lease.Proxy.ID, "only the healthy binding is eligible")
}

func TestAcquireProxyNoneAvailable(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	_, err := store.AcquireProxyForHost(host.ID, now, testOutcomePolicy.BindingFailureThreshold)
	assert.True(t, errdefs.IsNoProxyAvailable(err), "host without bindings has no proxy")

	proxy := seedProxy(t, store, "10.0.0.1", 3128)
	binding := seedBinding(t, store, host.ID, proxy.ID)
	binding.FailureCount = 5
	require.NoError(t, store.UpdateBinding(binding))

	_, err = store.AcquireProxyForHost(host.ID, now, testOutcomePolicy.BindingFailureThreshold)
	assert.True(t, errdefs.IsNoProxyAvailable(err), "all bindings over threshold leaves none")

	_, err = store.AcquireProxyForHost("missing", now, testOutcomePolicy.BindingFailureThreshold)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAcquireProxyStampsLastUsed(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	proxy := seedProxy(t, store, "10.0.0.1", 3128)
	binding := seedBinding(t, store, host.ID, proxy.ID)

	lease, err := store.AcquireProxyForHost(host.ID, now, testOutcomePolicy.BindingFailureThreshold)
	require.NoError(t, err)
	assert.Equal(t, binding.ID, lease.BindingID)

	got, err := store.GetBinding(binding.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, now, *got.LastUsedAt)

	gotProxy, err := store.GetProxy(proxy.ID)
	require.NoError(t, err)
	require.NotNil(t, gotProxy.LastUsedAt)
	assert.Equal(t, now, *gotProxy.LastUsedAt)
}

func TestAcquireProxyKeepsCredentialUsable(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	enc, err := security.NewEncryptorFromPassword("test-master-key")
	require.NoError(t, err)
	store = store.WithEncryptor(enc)

	host := seedHost(t, store, "news-site")
	proxy := &types.Proxy{
		ID:       "proxy-cred",
		Address:  "10.0.0.1",
		Port:     3128,
		Protocol: types.ProxyProtocolHTTP,
		Username: "crawler",
		Password: "s3cret",
		Active:   true,
	}
	require.NoError(t, store.CreateProxy(proxy))
	seedBinding(t, store, host.ID, proxy.ID)

	// Two acquires in a row: the credential survives the decrypt/reseal
	// round trip of the select-and-touch write.
	for i := 0; i < 2; i++ {
		lease, err := store.AcquireProxyForHost(host.ID, time.Now().UTC(), 5)
		require.NoError(t, err)
		assert.Equal(t, "s3cret", lease.Proxy.Password)
	}
}

func TestRecordProxyOutcomeSuccess(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	proxy := seedProxy(t, store, "10.0.0.1", 3128)
	binding := seedBinding(t, store, host.ID, proxy.ID)
	binding.FailureCount = 3
	require.NoError(t, store.UpdateBinding(binding))

	result, err := store.RecordProxyOutcome(binding.ID,
		types.ProxyOutcome{Success: true, LatencyMS: 400}, testOutcomePolicy, now)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Binding.SuccessCount)
	assert.Equal(t, 0, result.Binding.FailureCount, "success zeroes the consecutive failure count")
	assert.Equal(t, float64(400), result.Binding.AvgLatencyMS, "first sample is taken as-is")
	require.NotNil(t, result.Proxy.LastSuccessAt)

	result, err = store.RecordProxyOutcome(binding.ID,
		types.ProxyOutcome{Success: true, LatencyMS: 200}, testOutcomePolicy, now)
	require.NoError(t, err)
	assert.Equal(t, float64(300), result.Binding.AvgLatencyMS, "moving average folds at half weight")
}

func TestRecordProxyOutcomeFailureThresholds(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	proxy := seedProxy(t, store, "10.0.0.1", 3128)
	binding := seedBinding(t, store, host.ID, proxy.ID)

	var result *OutcomeResult
	var err error
	for i := 0; i < 5; i++ {
		result, err = store.RecordProxyOutcome(binding.ID,
			types.ProxyOutcome{Success: false, Reason: "connect timeout"}, testOutcomePolicy, now)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, result.Binding.FailureCount)
	assert.True(t, result.BindingExhausted, "binding crossed its failure threshold")
	assert.True(t, result.Proxy.Active, "proxy stays up until the global threshold")

	// The exhausted binding no longer competes for this host.
	_, err = store.AcquireProxyForHost(host.ID, now, testOutcomePolicy.BindingFailureThreshold)
	assert.True(t, errdefs.IsNoProxyAvailable(err))

	// Push the proxy over the global threshold.
	for i := 0; i < 5; i++ {
		result, err = store.RecordProxyOutcome(binding.ID,
			types.ProxyOutcome{Success: false, Reason: "connect timeout"}, testOutcomePolicy, now)
		require.NoError(t, err)
	}
	assert.True(t, result.ProxyDisabled)
	assert.False(t, result.Proxy.Active)
	require.NotNil(t, result.Proxy.DisabledAt)

	// One success heals the binding's consecutive count.
	result, err = store.RecordProxyOutcome(binding.ID,
		types.ProxyOutcome{Success: true, LatencyMS: 100}, testOutcomePolicy, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Binding.FailureCount)
}

func TestRecordProxyOutcomeReenableAfterGrace(t *testing.T) {
	store := newTestStore(t)
	host := seedHost(t, store, "news-site")
	now := time.Now().UTC()

	proxy := seedProxy(t, store, "10.0.0.1", 3128)
	proxy.Active = false
	disabled := now.Add(-2 * time.Minute)
	proxy.DisabledAt = &disabled
	require.NoError(t, store.UpdateProxy(proxy))
	binding := seedBinding(t, store, host.ID, proxy.ID)

	// Inside the grace window: stays disabled.
	result, err := store.RecordProxyOutcome(binding.ID,
		types.ProxyOutcome{Success: true, LatencyMS: 100}, testOutcomePolicy, now)
	require.NoError(t, err)
	assert.False(t, result.Proxy.Active)
	assert.False(t, result.ProxyReenabled)

	// Past the grace window: the success brings it back.
	past := now.Add(-6 * time.Minute)
	got, err := store.GetProxy(proxy.ID)
	require.NoError(t, err)
	got.DisabledAt = &past
	got.Active = false
	require.NoError(t, store.UpdateProxy(got))

	result, err = store.RecordProxyOutcome(binding.ID,
		types.ProxyOutcome{Success: true, LatencyMS: 100}, testOutcomePolicy, now)
	require.NoError(t, err)
	assert.True(t, result.ProxyReenabled)
	assert.True(t, result.Proxy.Active)
	assert.Nil(t, result.Proxy.DisabledAt)
}
