package integration

import (
	"testing"

	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/cuemby/scuttle/test/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A freshly submitted task is picked up by the next dispatcher round: the
// row moves to queued and its CrawlJob lands on the crawl queue.
func TestSubmitAndDispatch(t *testing.T) {
	h := framework.New(t, nil)
	host := h.SeedHost("a.example", nil)

	task, err := h.Manager.SubmitTask(host.ID, "https://a.example/x", types.TaskOptions{})
	require.NoError(t, err)
	require.Equal(t, types.TaskStatusPending, task.Status)
	require.Equal(t, types.PriorityDefault, task.Priority)

	crawlQ := h.Consumer(broker.QueueCrawl, "it-crawler")
	h.StartDispatcher()

	h.AwaitTaskStatus(task.ID, types.TaskStatusQueued)

	job := h.AwaitCrawlJob(crawlQ)
	assert.Equal(t, task.ID, job.TaskID)
	assert.Equal(t, "https://a.example/x", job.URL)
	assert.Equal(t, host.ID, job.HostID)
	assert.Equal(t, types.PriorityDefault, job.Priority)
	assert.Equal(t, 1, job.Attempt)
}

// Urgent priorities ride the fast lane: the job is published to the
// priority queue and the crawl queue stays empty.
func TestPriorityRouting(t *testing.T) {
	h := framework.New(t, nil)
	host := h.SeedHost("a.example", nil)

	task, err := h.Manager.SubmitTask(host.ID, "https://a.example/flash-sale", types.TaskOptions{
		Priority: types.PriorityHighest,
	})
	require.NoError(t, err)

	priorityQ := h.Consumer(broker.QueuePriority, "it-crawler")
	h.StartDispatcher()

	job := h.AwaitCrawlJob(priorityQ)
	assert.Equal(t, task.ID, job.TaskID)
	assert.Equal(t, types.PriorityHighest, job.Priority)

	assert.Zero(t, h.QueueDepth(broker.QueueCrawl))
}

// Two spellings of the same URL collapse onto one fingerprint: the second
// submission is rejected as a duplicate and no second row appears.
func TestDuplicateSubmission(t *testing.T) {
	h := framework.New(t, nil)
	host := h.SeedHost("a.example", nil)

	first, err := h.Manager.SubmitTask(host.ID, "https://a.example/x?a=1&b=2", types.TaskOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/x?a=1&b=2", first.URL)

	// Same query parameters, different order: normalization sorts them
	// back into the existing row's fingerprint.
	_, err = h.Manager.SubmitTask(host.ID, "https://a.example/x?b=2&a=1", types.TaskOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsDuplicate(err), "expected duplicate, got %v", err)

	page, err := h.Manager.QueryTasks(types.TaskQuery{
		Filter: types.TaskFilter{HostID: host.ID},
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, first.ID, page.Tasks[0].ID)
}
