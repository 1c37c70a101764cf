package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRegistry() {
	registry = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startedAt:  time.Now(),
	}
}

func TestUpdateComponent(t *testing.T) {
	resetRegistry()

	UpdateComponent("store", true, "")

	snap := Snapshot()
	require.Len(t, snap.Components, 1)
	assert.Equal(t, "healthy", snap.Status)
	assert.True(t, snap.Components["store"].Healthy)
	assert.False(t, snap.Components["store"].UpdatedAt.IsZero())
}

func TestUpdateComponentOverwrites(t *testing.T) {
	resetRegistry()

	UpdateComponent("broker", true, "")
	UpdateComponent("broker", false, "dial tcp: connection refused")

	snap := Snapshot()
	require.Len(t, snap.Components, 1)
	assert.Equal(t, "unhealthy", snap.Status)
	assert.Equal(t, "dial tcp: connection refused", snap.Components["broker"].Message)
}

func TestSnapshotStatusRollup(t *testing.T) {
	cases := []struct {
		name    string
		healthy map[string]bool
		want    string
	}{
		{"empty registry", nil, "healthy"},
		{"all healthy", map[string]bool{"store": true, "broker": true}, "healthy"},
		{"one failing", map[string]bool{"store": true, "broker": false}, "unhealthy"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetRegistry()
			for name, ok := range tc.healthy {
				UpdateComponent(name, ok, "")
			}
			assert.Equal(t, tc.want, Snapshot().Status)
		})
	}
}

func TestSnapshotVersionAndUptime(t *testing.T) {
	resetRegistry()
	SetVersion("1.2.3")

	snap := Snapshot()
	assert.Equal(t, "1.2.3", snap.Version)
	assert.NotEmpty(t, snap.Uptime)
}

func TestComponentGaugeTracksUpdates(t *testing.T) {
	resetRegistry()

	UpdateComponent("store", true, "")
	assert.InDelta(t, 1.0, testutil.ToFloat64(ComponentUp.WithLabelValues("store")), 0.001)

	UpdateComponent("store", false, "read tx failed")
	assert.InDelta(t, 0.0, testutil.ToFloat64(ComponentUp.WithLabelValues("store")), 0.001)
}
