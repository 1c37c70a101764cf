package health

import (
	"context"
	"time"
)

// CheckType identifies what kind of dependency a checker probes.
type CheckType string

const (
	CheckTypeTCP    CheckType = "tcp"
	CheckTypeStore  CheckType = "store"
	CheckTypeBroker CheckType = "broker"
)

// Result is the outcome of a single check attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// pass and fail stamp a Result with the attempt's start time and elapsed
// duration. Check errors travel in Message, not as error returns.
func pass(start time.Time, msg string) Result {
	return Result{Healthy: true, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}

func fail(start time.Time, msg string) Result {
	return Result{Message: msg, CheckedAt: start, Duration: time.Since(start)}
}

// Checker probes one dependency. Implementations must honor context
// cancellation; the monitor wraps each call in the configured timeout.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config tunes how a component is observed.
type Config struct {
	// Interval is the time between checks.
	Interval time.Duration

	// Timeout bounds each individual check.
	Timeout time.Duration

	// Retries is how many consecutive failures flip a component to
	// unhealthy. A single success flips it back.
	Retries int

	// StartPeriod is a grace window after registration during which
	// failures are recorded but never counted. Zero disables it.
	StartPeriod time.Duration
}

// DefaultConfig is the cadence the server applies to its store and
// broker checks.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status is the rolling verdict for one component.
type Status struct {
	// ConsecutiveFailures counts misses since the last success.
	ConsecutiveFailures int

	// LastResult is the most recent check outcome, healthy or not.
	LastResult Result

	// Healthy is the debounced verdict, distinct from LastResult.Healthy:
	// it only flips after Retries consecutive failures.
	Healthy bool

	// StartedAt anchors the start period.
	StartedAt time.Time
}

// NewStatus starts optimistic so a component is not reported down before
// its first check completes.
func NewStatus() *Status {
	return &Status{Healthy: true, StartedAt: time.Now()}
}

// Update folds one check result into the verdict.
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// InStartPeriod reports whether the component is still inside its grace window.
func (s *Status) InStartPeriod(config Config) bool {
	return config.StartPeriod > 0 && time.Since(s.StartedAt) < config.StartPeriod
}
