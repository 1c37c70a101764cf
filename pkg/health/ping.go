package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is implemented by dependencies that can report reachability with
// a cheap round trip (bolt read transaction, redis PING).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger to the Checker interface.
type PingChecker struct {
	checkType CheckType
	pinger    Pinger

	// Timeout caps the ping. Defaults to 5 seconds.
	Timeout time.Duration
}

// NewStoreChecker wraps the task store's Ping.
func NewStoreChecker(p Pinger) *PingChecker {
	return &PingChecker{checkType: CheckTypeStore, pinger: p, Timeout: 5 * time.Second}
}

// NewBrokerChecker wraps the message broker's Ping.
func NewBrokerChecker(p Pinger) *PingChecker {
	return &PingChecker{checkType: CheckTypeBroker, pinger: p, Timeout: 5 * time.Second}
}

// WithTimeout overrides the ping timeout.
func (p *PingChecker) WithTimeout(timeout time.Duration) *PingChecker {
	p.Timeout = timeout
	return p
}

// Check runs one ping under the checker's timeout.
func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	if err := p.pinger.Ping(pingCtx); err != nil {
		return fail(start, fmt.Sprintf("%s ping failed: %v", p.checkType, err))
	}

	return pass(start, fmt.Sprintf("%s reachable", p.checkType))
}

func (p *PingChecker) Type() CheckType {
	return p.checkType
}
