package manager

import (
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/blob"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/cuemby/scuttle/pkg/urlnorm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, eventBroker *events.Broker) (*Manager, storage.Store, blob.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	allocator := proxy.NewAllocator(store, eventBroker, storage.OutcomePolicy{})
	return New(store, allocator, blobs, eventBroker, config.Default()), store, blobs
}

func createHost(t *testing.T, m *Manager, name string) *types.Host {
	t.Helper()
	host, err := m.CreateHost(&types.Host{
		Name:      name,
		BaseURL:   "https://" + name,
		ParserTag: "article_v1",
		Active:    true,
	})
	require.NoError(t, err)
	return host
}

// seedTerminal inserts a terminal row directly, the shape a task has after
// the pipeline finished with it.
func seedTerminal(t *testing.T, store storage.Store, hostID, url string, status types.TaskStatus) *types.CrawlTask {
	t.Helper()
	normalized, err := urlnorm.Normalize(url)
	require.NoError(t, err)
	completed := time.Now().UTC().Add(-time.Hour)
	task := &types.CrawlTask{
		ID:          uuid.New().String(),
		HostID:      hostID,
		URL:         normalized,
		Fingerprint: urlnorm.Fingerprint(normalized),
		Status:      status,
		Priority:    types.PriorityDefault,
		MaxRetries:  3,
		RetryCount:  2,
		Error:       "connect timeout",
		BlobRef:     "blob/old.html",
		HTTPCode:    502,
		LatencyMS:   900,
		CompletedAt: &completed,
	}
	require.NoError(t, store.CreateTask(task))
	return task
}

func TestSubmitTaskNormalizesAndDefaults(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")

	before := time.Now().UTC()
	task, err := m.SubmitTask(host.ID, "HTTPS://Shop.example.COM:443/p?b=2&a=1#frag", types.TaskOptions{})
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/p?a=1&b=2", task.URL)
	assert.Len(t, task.Fingerprint, 64)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, types.PriorityDefault, task.Priority)
	assert.Equal(t, 3, task.MaxRetries)
	assert.False(t, task.ScheduledAt.Before(before))
	assert.False(t, task.IsRecurring)
}

func TestSubmitTaskDuplicate(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")

	first, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	// Different raw form, same normalized fingerprint.
	_, err = m.SubmitTask(host.ID, "https://shop.example.com/x?", types.TaskOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsDuplicate(err))
	assert.Contains(t, err.Error(), first.ID)
}

func TestSubmitTaskValidation(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")

	_, err := m.SubmitTask(host.ID, "not a url", types.TaskOptions{})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{Priority: 11})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = m.SubmitTask("missing", "https://shop.example.com/x", types.TaskOptions{})
	assert.True(t, errdefs.IsNotFound(err))

	// Recurring with no interval anywhere is rejected.
	_, err = m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{IsRecurring: true})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestSubmitTaskRecurringHostDefault(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host, err := m.CreateHost(&types.Host{
		Name:            "feeds.example.com",
		BaseURL:         "https://feeds.example.com",
		ParserTag:       "feed_v1",
		DefaultInterval: 6 * time.Hour,
		Active:          true,
	})
	require.NoError(t, err)

	task, err := m.SubmitTask(host.ID, "https://feeds.example.com/rss", types.TaskOptions{IsRecurring: true})
	require.NoError(t, err)
	assert.True(t, task.IsRecurring)
	assert.Equal(t, 6*time.Hour, task.Interval)

	task, err = m.SubmitTask(host.ID, "https://feeds.example.com/atom",
		types.TaskOptions{IsRecurring: true, Interval: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, task.Interval)
}

func TestSubmitTasksBulk(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")

	result, err := m.SubmitTasksBulk(host.ID, []string{
		"https://shop.example.com/a",
		"not a url",
		"https://shop.example.com/a?", // normalizes to the first
		"https://shop.example.com/b",
	}, types.TaskOptions{Priority: 3})
	require.NoError(t, err)

	assert.Len(t, result.Inserted, 2)
	require.Len(t, result.Duplicates, 1)
	assert.Equal(t, "https://shop.example.com/a", result.Duplicates[0].URL)
	require.Len(t, result.Invalid, 1)
	assert.Equal(t, "not a url", result.Invalid[0].URL)

	_, err = m.SubmitTasksBulk("missing", []string{"https://x.example.com/"}, types.TaskOptions{})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestPauseResume(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	paused, err := m.PauseTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPaused, paused.Status)

	_, err = m.PauseTask(task.ID)
	assert.True(t, errdefs.IsIllegalTransition(err))

	before := time.Now().UTC()
	resumed, err := m.ResumeTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, resumed.Status)
	assert.False(t, resumed.ScheduledAt.Before(before))

	_, err = m.ResumeTask(task.ID)
	assert.True(t, errdefs.IsIllegalTransition(err))
}

func TestCancelFreesFingerprint(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	cancelled, err := m.CancelTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = m.CancelTask(task.ID)
	assert.True(t, errdefs.IsIllegalTransition(err))

	// The cancelled row no longer owns the fingerprint.
	again, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, again.ID)
}

func TestRestartTask(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	failed := seedTerminal(t, store, host.ID, "https://shop.example.com/x", types.TaskStatusFailed)

	restarted, err := m.RestartTask(failed.ID, types.RestartOptions{ResetRetries: true, Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, restarted.Status)
	assert.Equal(t, 0, restarted.RetryCount)
	assert.Equal(t, 2, restarted.Priority)
	assert.Empty(t, restarted.Error)
	assert.Empty(t, restarted.BlobRef)
	assert.Zero(t, restarted.HTTPCode)
	assert.Nil(t, restarted.CompletedAt)
	assert.Nil(t, restarted.StartedAt)

	// Restarting a pending task is illegal.
	_, err = m.RestartTask(failed.ID, types.RestartOptions{})
	assert.True(t, errdefs.IsIllegalTransition(err))
}

func TestRestartTaskKeepsRetriesByDefault(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	failed := seedTerminal(t, store, host.ID, "https://shop.example.com/x", types.TaskStatusFailed)

	restarted, err := m.RestartTask(failed.ID, types.RestartOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, restarted.RetryCount)
	assert.Equal(t, types.PriorityDefault, restarted.Priority)
}

func TestRestartTaskDuplicateFingerprint(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	failed := seedTerminal(t, store, host.ID, "https://shop.example.com/x", types.TaskStatusFailed)

	// A fresh submission took over the URL while the old row sat failed.
	_, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	_, err = m.RestartTask(failed.ID, types.RestartOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsDuplicate(err))

	got, err := store.GetTask(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status, "failed restart must not move the row")
}

func TestRestartParseOnly(t *testing.T) {
	m, store, blobs := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")

	task := seedTerminal(t, store, host.ID, "https://shop.example.com/x", types.TaskStatusCompleted)
	require.NoError(t, blobs.Put(task.BlobRef, []byte("<html>cached</html>")))

	restarted, err := m.RestartParseOnly(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDownloaded, restarted.Status)
	assert.Equal(t, task.BlobRef, restarted.BlobRef, "parse-only restart keeps the stored body")
	assert.Nil(t, restarted.CompletedAt)

	// Body no longer stored.
	gone := seedTerminal(t, store, host.ID, "https://shop.example.com/y", types.TaskStatusFailed)
	_, err = m.RestartParseOnly(gone.ID)
	assert.True(t, errdefs.IsHTMLNotAvailable(err))

	// Never downloaded at all.
	fresh, err := m.SubmitTask(host.ID, "https://shop.example.com/z", types.TaskOptions{})
	require.NoError(t, err)
	_, err = m.RestartParseOnly(fresh.ID)
	assert.True(t, errdefs.IsHTMLNotAvailable(err))
}

func TestBulkRestartFailed(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	hostA := createHost(t, m, "a.example.com")
	hostB := createHost(t, m, "b.example.com")

	now := time.Now().UTC()
	recent := seedTerminal(t, store, hostA.ID, "https://a.example.com/1", types.TaskStatusFailed)
	old := seedTerminal(t, store, hostA.ID, "https://a.example.com/2", types.TaskStatusFailed)
	other := seedTerminal(t, store, hostB.ID, "https://b.example.com/1", types.TaskStatusFailed)

	// Push the old failure outside the window. seedTerminal stamps
	// completion one hour ago.
	threeHours := now.Add(-3 * time.Hour)
	_, _, err := store.TransitionTask(old.ID, []types.TaskStatus{types.TaskStatusFailed}, types.TaskStatusFailed,
		func(tk *types.CrawlTask) { tk.CompletedAt = &threeHours })
	require.NoError(t, err)

	cutoff := now.Add(-2 * time.Hour)
	result, err := m.BulkRestartFailed(hostA.ID, &cutoff, 50, types.RestartOptions{ResetRetries: true})
	require.NoError(t, err)

	require.Len(t, result.Restarted, 1)
	assert.Equal(t, recent.ID, result.Restarted[0])
	assert.Empty(t, result.Failed)

	got, err := store.GetTask(other.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status, "other host's failures stay put")
}

func TestChangePriority(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	updated, err := m.ChangePriority(task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Priority)
	assert.Equal(t, types.TaskStatusPending, updated.Status)

	_, err = m.ChangePriority(task.ID, 0)
	assert.True(t, errdefs.IsInvalidArgument(err))
	_, err = m.ChangePriority(task.ID, 11)
	assert.True(t, errdefs.IsInvalidArgument(err))
	_, err = m.ChangePriority("missing", 5)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestClaimCrawl(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	// Claiming before dispatch is the pause/cancel race the worker
	// contract guards against.
	_, err = m.ClaimCrawl(task.ID)
	assert.True(t, errdefs.IsIllegalTransition(err))

	swapped, _, err := store.TransitionTask(task.ID,
		[]types.TaskStatus{types.TaskStatusPending}, types.TaskStatusQueued, nil)
	require.NoError(t, err)
	require.True(t, swapped)

	claimed, err := m.ClaimCrawl(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCrawling, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	// A duplicate delivery loses the claim race.
	_, err = m.ClaimCrawl(task.ID)
	assert.True(t, errdefs.IsIllegalTransition(err))
}

func TestRecordAttemptPipeline(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x",
		types.TaskOptions{IsRecurring: true, Interval: time.Hour})
	require.NoError(t, err)

	// pending → queued → crawling
	swapped, _, err := store.TransitionTask(task.ID,
		[]types.TaskStatus{types.TaskStatusPending}, types.TaskStatusQueued, nil)
	require.NoError(t, err)
	require.True(t, swapped)
	_, err = m.ClaimCrawl(task.ID)
	require.NoError(t, err)

	downloaded, err := m.RecordAttempt(task.ID, types.Attempt{
		Kind:      types.AttemptDownloadSuccess,
		BlobRef:   "t/attempt-1.html",
		HTTPCode:  200,
		LatencyMS: 132,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDownloaded, downloaded.Status)
	assert.Equal(t, "t/attempt-1.html", downloaded.BlobRef)
	assert.Equal(t, 200, downloaded.HTTPCode)

	// downloaded → queued_parse → parsing
	swapped, _, err = store.TransitionTask(task.ID,
		[]types.TaskStatus{types.TaskStatusDownloaded}, types.TaskStatusQueuedParse, nil)
	require.NoError(t, err)
	require.True(t, swapped)
	_, err = m.ClaimParse(task.ID)
	require.NoError(t, err)

	completed, err := m.RecordAttempt(task.ID, types.Attempt{Kind: types.AttemptParseSuccess})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.NextRunAt, "recurring completion schedules the next run")
	assert.True(t, completed.NextRunAt.Equal(completed.CompletedAt.Add(time.Hour)))
}

func TestRecordAttemptTransientBackoff(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	swapped, _, err := store.TransitionTask(task.ID,
		[]types.TaskStatus{types.TaskStatusPending}, types.TaskStatusQueued, nil)
	require.NoError(t, err)
	require.True(t, swapped)
	_, err = m.ClaimCrawl(task.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	retried, err := m.RecordAttempt(task.ID, types.Attempt{
		Kind:  types.AttemptTransientFailure,
		Error: "connection reset",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	// First retry waits the configured base delay (2m).
	assert.WithinDuration(t, now.Add(2*time.Minute), retried.ScheduledAt, 5*time.Second)

	// A result for a task that already moved on is rejected.
	_, err = m.RecordAttempt(task.ID, types.Attempt{Kind: types.AttemptDownloadSuccess})
	assert.True(t, errdefs.IsIllegalTransition(err))
}

func TestRecordAttemptTerminal(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)

	swapped, _, err := store.TransitionTask(task.ID,
		[]types.TaskStatus{types.TaskStatusPending}, types.TaskStatusQueued, nil)
	require.NoError(t, err)
	require.True(t, swapped)
	_, err = m.ClaimCrawl(task.ID)
	require.NoError(t, err)

	failed, err := m.RecordAttempt(task.ID, types.Attempt{
		Kind:     types.AttemptTerminalFailure,
		HTTPCode: 410,
		Error:    "gone",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, failed.Status)
	assert.Equal(t, "gone", failed.Error)
	assert.NotNil(t, failed.CompletedAt)
}

func TestLifecycleEventsPublished(t *testing.T) {
	eventBroker := events.NewBroker()
	eventBroker.Start()
	defer eventBroker.Stop()
	sub := eventBroker.Subscribe()
	defer eventBroker.Unsubscribe(sub)

	m, _, _ := newTestManager(t, eventBroker)
	host := createHost(t, m, "shop.example.com")
	task, err := m.SubmitTask(host.ID, "https://shop.example.com/x", types.TaskOptions{})
	require.NoError(t, err)
	_, err = m.PauseTask(task.ID)
	require.NoError(t, err)

	want := map[events.EventType]bool{
		events.EventHostCreated:   false,
		events.EventTaskSubmitted: false,
		events.EventTaskPaused:    false,
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub:
			if _, ok := want[event.Type]; ok {
				want[event.Type] = true
			}
			done := true
			for _, seen := range want {
				if !seen {
					done = false
				}
			}
			if done {
				return
			}
		case <-deadline:
			t.Fatalf("missing lifecycle events: %v", want)
		}
	}
}
