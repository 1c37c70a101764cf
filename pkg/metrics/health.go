package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ComponentUp exports the last observed health of each dependency as a
// 0/1 gauge. Readiness checks and the background monitor both feed it.
var ComponentUp = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "scuttle_component_up",
		Help: "Whether the named component passed its last health check",
	},
	[]string{"component"},
)

// ComponentHealth is one dependency's last observed state.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthSnapshot aggregates the component registry. Status is "healthy"
// unless any component failed its last check.
type HealthSnapshot struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// healthRegistry caches check outcomes so liveness and dashboards can
// read component state without re-running checks.
type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	version    string
	startedAt  time.Time
}

var registry = &healthRegistry{
	components: make(map[string]ComponentHealth),
	startedAt:  time.Now(),
}

// SetVersion stamps snapshots with the build version.
func SetVersion(v string) {
	registry.mu.Lock()
	registry.version = v
	registry.mu.Unlock()
}

// UpdateComponent records a health observation for one dependency and
// moves its gauge.
func UpdateComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	registry.components[name] = ComponentHealth{
		Name:      name,
		Healthy:   healthy,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	registry.mu.Unlock()

	up := 0.0
	if healthy {
		up = 1
	}
	ComponentUp.WithLabelValues(name).Set(up)
}

// Snapshot returns the cached component view.
func Snapshot() HealthSnapshot {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "healthy"
	components := make(map[string]ComponentHealth, len(registry.components))
	for name, c := range registry.components {
		components[name] = c
		if !c.Healthy {
			status = "unhealthy"
		}
	}

	return HealthSnapshot{
		Status:     status,
		Version:    registry.version,
		Uptime:     time.Since(registry.startedAt).Round(time.Second).String(),
		Components: components,
	}
}
