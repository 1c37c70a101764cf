package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/stretchr/testify/require"
)

// Waiter polls a condition until it holds or the timeout elapses.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter sized for the in-process stack: state
// changes land within a dispatcher tick or two, so 5s is generous.
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 10*time.Millisecond)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// Context returns a context cancelled at test cleanup.
func (h *Harness) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	h.T.Cleanup(cancel)
	return ctx
}

// AwaitTaskStatus polls the store until the task reaches the status and
// returns the row as of that observation.
func (h *Harness) AwaitTaskStatus(taskID string, status types.TaskStatus) *types.CrawlTask {
	h.T.Helper()

	var task *types.CrawlTask
	err := DefaultWaiter().WaitFor(h.Context(), func() bool {
		t, err := h.Store.GetTask(taskID)
		if err != nil {
			return false
		}
		task = t
		return t.Status == status
	}, fmt.Sprintf("task %s to reach status %s", taskID, status))
	if err != nil {
		got := "<missing>"
		if task != nil {
			got = string(task.Status)
		}
		h.T.Fatalf("%v (last status: %s)", err, got)
	}
	return task
}

// AwaitDelivery reads one message from the consumer, failing the test if
// none arrives in time. The delivery is not acked.
func (h *Harness) AwaitDelivery(c *broker.Consumer) broker.Delivery {
	h.T.Helper()
	select {
	case d, ok := <-c.Deliveries():
		require.True(h.T, ok, "delivery channel closed early")
		return d
	case <-time.After(5 * time.Second):
		h.T.Fatalf("timed out waiting for delivery")
		return broker.Delivery{}
	}
}

// AwaitCrawlJob reads and acks one delivery and decodes it as a CrawlJob.
func (h *Harness) AwaitCrawlJob(c *broker.Consumer) *types.CrawlJob {
	h.T.Helper()
	d := h.AwaitDelivery(c)
	job, err := broker.DecodeCrawlJob(d.Payload)
	require.NoError(h.T, err)
	require.NoError(h.T, d.Ack())
	return job
}

// AwaitParseJob reads and acks one delivery and decodes it as a ParseJob.
func (h *Harness) AwaitParseJob(c *broker.Consumer) *types.ParseJob {
	h.T.Helper()
	d := h.AwaitDelivery(c)
	job, err := broker.DecodeParseJob(d.Payload)
	require.NoError(h.T, err)
	require.NoError(h.T, d.Ack())
	return job
}

// QueueDepth returns the number of entries sitting in the queue's stream.
func (h *Harness) QueueDepth(q broker.Queue) int64 {
	h.T.Helper()
	depth, err := h.Broker.Depth(h.Context(), string(q))
	require.NoError(h.T, err)
	return depth
}
