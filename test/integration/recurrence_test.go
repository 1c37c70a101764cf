package integration

import (
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/cuemby/scuttle/test/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A recurring task is driven through the whole pipeline; once its interval
// elapses the dispatcher materializes a fresh pending row and advances the
// parent's schedule by one interval.
func TestRecurrenceMaterialization(t *testing.T) {
	h := framework.New(t, nil)
	host := h.SeedHost("a.example", nil)

	crawlQ := h.Consumer(broker.QueueCrawl, "it-crawler")
	parseQ := h.Consumer(broker.QueueParse, "it-parser")
	h.StartDispatcher()

	interval := 500 * time.Millisecond
	task, err := h.Manager.SubmitTask(host.ID, "https://a.example/feed", types.TaskOptions{
		IsRecurring: true,
		Interval:    interval,
	})
	require.NoError(t, err)

	// Crawl stage: consume the job, claim, store the body.
	job := h.AwaitCrawlJob(crawlQ)
	require.Equal(t, task.ID, job.TaskID)
	_, err = h.Manager.ClaimCrawl(task.ID)
	require.NoError(t, err)
	_, err = h.Manager.RecordAttempt(task.ID, types.Attempt{
		Kind:      types.AttemptDownloadSuccess,
		BlobRef:   "a.example/feed-1.html",
		HTTPCode:  200,
		LatencyMS: 42,
	})
	require.NoError(t, err)

	// The dispatcher sweeps the downloaded row into the parse queue.
	pjob := h.AwaitParseJob(parseQ)
	require.Equal(t, task.ID, pjob.TaskID)
	assert.Equal(t, "a.example/feed-1.html", pjob.BlobRef)
	assert.Equal(t, host.ParserTag, pjob.ParserTag)

	_, err = h.Manager.ClaimParse(task.ID)
	require.NoError(t, err)
	completed, err := h.Manager.RecordAttempt(task.ID, types.Attempt{Kind: types.AttemptParseSuccess})
	require.NoError(t, err)

	require.Equal(t, types.TaskStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.NextRunAt)
	firstRun := *completed.NextRunAt
	assert.True(t, firstRun.After(*completed.CompletedAt),
		"next run %v must be after completion %v", firstRun, completed.CompletedAt)

	// One interval later the child row exists.
	var child *types.CrawlTask
	err = framework.DefaultWaiter().WaitFor(h.Context(), func() bool {
		page, err := h.Manager.QueryTasks(types.TaskQuery{
			Filter: types.TaskFilter{HostID: host.ID},
			Limit:  10,
		})
		if err != nil {
			return false
		}
		for _, row := range page.Tasks {
			if row.ID != task.ID && row.RecurCount == task.RecurCount+1 {
				child = row
				return true
			}
		}
		return false
	}, "recurrence child to materialize")
	require.NoError(t, err)

	assert.Equal(t, task.URL, child.URL)
	assert.Equal(t, host.ID, child.HostID)
	assert.True(t, child.IsRecurring)
	assert.Equal(t, interval, child.Interval)
	assert.Equal(t, "recurrence", child.CreatedBy)
	assert.Equal(t, task.Priority, child.Priority)

	// The parent's schedule advanced exactly one interval past the mark it
	// was materialized from.
	parent, err := h.Manager.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, parent.NextRunAt)
	assert.True(t, parent.NextRunAt.Equal(firstRun.Add(interval)),
		"next_run_at %v, want %v", parent.NextRunAt, firstRun.Add(interval))
}
