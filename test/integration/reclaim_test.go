package integration

import (
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/cuemby/scuttle/test/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A worker that claims a task and disappears loses its lease: past the
// crawling deadline the dispatcher returns the task to the pipeline with
// one retry spent, and the job is redelivered as a second attempt.
func TestLeaseReclaim(t *testing.T) {
	h := framework.New(t, func(cfg *config.Config) {
		cfg.StateDeadline.Crawling = 150 * time.Millisecond
	})
	host := h.SeedHost("a.example", nil)

	crawlQ := h.Consumer(broker.QueueCrawl, "it-crawler")
	h.StartDispatcher()

	task, err := h.Manager.SubmitTask(host.ID, "https://a.example/stall", types.TaskOptions{})
	require.NoError(t, err)

	job := h.AwaitCrawlJob(crawlQ)
	require.Equal(t, task.ID, job.TaskID)
	require.Equal(t, 1, job.Attempt)

	// The worker claims the task and is never heard from again.
	_, err = h.Manager.ClaimCrawl(task.ID)
	require.NoError(t, err)

	// The reclaimed row is immediately due, so it may already be queued
	// again by the time we observe it; what must hold is that it left
	// crawling with exactly one retry spent.
	err = framework.DefaultWaiter().WaitFor(h.Context(), func() bool {
		row, err := h.Store.GetTask(task.ID)
		if err != nil {
			return false
		}
		return row.Status != types.TaskStatusCrawling && row.RetryCount == 1
	}, "expired lease to be reclaimed")
	require.NoError(t, err)

	row, err := h.Store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Contains(t, row.Error, "lease expired")

	// The redispatched job carries the second attempt.
	redelivered := h.AwaitCrawlJob(crawlQ)
	assert.Equal(t, task.ID, redelivered.TaskID)
	assert.Equal(t, 2, redelivered.Attempt)
}
