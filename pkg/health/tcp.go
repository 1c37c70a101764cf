package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports whether an endpoint accepts connections. The proxy
// probe endpoint uses it to verify a proxy is reachable before an
// operator re-enables it.
type TCPChecker struct {
	// Address is the host:port to dial, e.g. "proxy1.example.net:8080".
	Address string

	// Timeout caps the dial. Defaults to 5 seconds.
	Timeout time.Duration
}

// NewTCPChecker creates a checker for the given address.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

// WithTimeout overrides the dial timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

// Check dials the address once and hangs up. Accepting the connection is
// the whole test; no bytes are exchanged.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return fail(start, fmt.Sprintf("connection failed: %v", err))
	}
	conn.Close()

	return pass(start, fmt.Sprintf("%s accepts connections", t.Address))
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}
