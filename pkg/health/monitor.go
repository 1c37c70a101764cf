package health

import (
	"context"
	"sync"
	"time"
)

// ReportFunc receives the outcome of every completed health check round.
// The server wires this to the readiness registry and metrics.
type ReportFunc func(component string, status Status)

// componentMonitor tracks health check state for a single component
type componentMonitor struct {
	name    string
	checker Checker
	status  *Status
	config  Config
}

// Monitor runs periodic health checks against registered components and
// reports status transitions through a callback.
type Monitor struct {
	mu       sync.Mutex
	monitors []*componentMonitor
	report   ReportFunc
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewMonitor creates a new health monitor
func NewMonitor(report ReportFunc) *Monitor {
	return &Monitor{report: report}
}

// Register adds a component to be monitored. Must be called before Start.
func (m *Monitor) Register(name string, checker Checker, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = defaults.Retries
	}

	m.monitors = append(m.monitors, &componentMonitor{
		name:    name,
		checker: checker,
		status:  NewStatus(),
		config:  config,
	})
}

// Start launches a check loop per registered component
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, cm := range m.monitors {
		m.wg.Add(1)
		go m.checkLoop(ctx, cm)
	}
}

// Stop stops all check loops and waits for them to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// checkLoop runs health checks for one component
func (m *Monitor) checkLoop(ctx context.Context, cm *componentMonitor) {
	defer m.wg.Done()

	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	// Run initial check immediately
	m.runCheck(ctx, cm)

	for {
		select {
		case <-ticker.C:
			m.runCheck(ctx, cm)
		case <-ctx.Done():
			return
		}
	}
}

// runCheck performs a single health check and reports the result
func (m *Monitor) runCheck(ctx context.Context, cm *componentMonitor) {
	checkCtx, cancel := context.WithTimeout(ctx, cm.config.Timeout)
	defer cancel()

	result := cm.checker.Check(checkCtx)

	// Failures during the start period don't count against the component
	if !result.Healthy && cm.status.InStartPeriod(cm.config) {
		cm.status.LastResult = result
		return
	}

	cm.status.Update(result, cm.config)

	if m.report != nil {
		m.report(cm.name, *cm.status)
	}
}
