package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// flakyChecker reports healthy or unhealthy based on a flag
type flakyChecker struct {
	healthy atomic.Bool
}

func (f *flakyChecker) Check(ctx context.Context) Result {
	ok := f.healthy.Load()
	msg := "ok"
	if !ok {
		msg = "dependency down"
	}
	return Result{Healthy: ok, Message: msg, CheckedAt: time.Now()}
}

func (f *flakyChecker) Type() CheckType { return CheckTypeStore }

func TestStatus_UpdateThreshold(t *testing.T) {
	status := NewStatus()
	config := Config{Retries: 3}

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	// Two failures stay under the threshold
	status.Update(fail, config)
	status.Update(fail, config)
	if !status.Healthy {
		t.Error("Expected healthy before reaching retry threshold")
	}

	// Third consecutive failure crosses it
	status.Update(fail, config)
	if status.Healthy {
		t.Error("Expected unhealthy after reaching retry threshold")
	}
	if status.ConsecutiveFailures != 3 {
		t.Errorf("Expected 3 consecutive failures, got %d", status.ConsecutiveFailures)
	}

	// A single success recovers immediately
	status.Update(ok, config)
	if !status.Healthy {
		t.Error("Expected healthy after success")
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("Expected failure counter reset, got %d", status.ConsecutiveFailures)
	}
}

func TestMonitor_ReportsTransitions(t *testing.T) {
	checker := &flakyChecker{}
	checker.healthy.Store(true)

	reports := make(chan Status, 100)
	monitor := NewMonitor(func(component string, status Status) {
		if component != "store" {
			t.Errorf("Unexpected component name %q", component)
		}
		select {
		case reports <- status:
		default:
		}
	})

	monitor.Register("store", checker, Config{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Retries:  2,
	})
	monitor.Start()
	defer monitor.Stop()

	// First report arrives from the immediate initial check
	select {
	case status := <-reports:
		if !status.Healthy {
			t.Errorf("Expected healthy initial report: %s", status.LastResult.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for initial report")
	}

	// Flip the dependency down and wait for the threshold to trip
	checker.healthy.Store(false)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case status := <-reports:
			if !status.Healthy {
				if status.ConsecutiveFailures < 2 {
					t.Errorf("Marked unhealthy after %d failures, threshold is 2", status.ConsecutiveFailures)
				}
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for unhealthy report")
		}
	}
}

func TestMonitor_StartPeriodSuppressesFailures(t *testing.T) {
	checker := &flakyChecker{}
	checker.healthy.Store(false)

	reports := make(chan Status, 100)
	monitor := NewMonitor(func(component string, status Status) {
		select {
		case reports <- status:
		default:
		}
	})

	monitor.Register("broker", checker, Config{
		Interval:    10 * time.Millisecond,
		Timeout:     time.Second,
		Retries:     1,
		StartPeriod: time.Hour,
	})
	monitor.Start()
	defer monitor.Stop()

	// Failures inside the start period are not reported
	select {
	case status := <-reports:
		t.Errorf("Expected no report during start period, got healthy=%v", status.Healthy)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitor_StopIdempotent(t *testing.T) {
	monitor := NewMonitor(nil)
	monitor.Register("store", &flakyChecker{}, Config{Interval: 10 * time.Millisecond})

	monitor.Start()
	monitor.Start() // second Start is a no-op
	monitor.Stop()
	monitor.Stop() // second Stop is a no-op
}
