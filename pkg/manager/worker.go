package manager

import (
	"strconv"
	"time"

	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/types"
)

// ClaimCrawl is the crawler worker's first write after consuming a
// CrawlJob: queued becomes crawling and the attempt clock starts. A task
// paused or cancelled since dispatch fails the claim, telling the worker
// to ack the message without doing the work.
func (m *Manager) ClaimCrawl(id string) (*types.CrawlTask, error) {
	now := time.Now().UTC()
	swapped, task, err := m.store.TransitionTask(id, claimCrawlStates, types.TaskStatusCrawling,
		func(t *types.CrawlTask) {
			t.StartedAt = &now
		})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("claim crawl for", task.Status)
	}
	m.publishTaskEvent(events.EventTaskClaimed, id, "crawl claimed", nil)
	return task, nil
}

// ClaimParse is the parser worker's equivalent for ParseJob deliveries.
func (m *Manager) ClaimParse(id string) (*types.CrawlTask, error) {
	swapped, task, err := m.store.TransitionTask(id, claimParseStates, types.TaskStatusParsing, nil)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("claim parse for", task.Status)
	}
	m.publishTaskEvent(events.EventTaskClaimed, id, "parse claimed", nil)
	return task, nil
}

// RecordAttempt applies a worker's outcome atomically: download success
// moves to downloaded with the blob reference, parse success completes
// the task and schedules its recurrence, a transient failure backs off
// and returns to pending (or fails once retries are spent), a terminal
// failure fails immediately.
func (m *Manager) RecordAttempt(id string, outcome types.Attempt) (*types.CrawlTask, error) {
	task, err := m.store.RecordAttempt(id, outcome, m.policy, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	metrics.AttemptsRecorded.WithLabelValues(string(outcome.Kind)).Inc()

	switch outcome.Kind {
	case types.AttemptDownloadSuccess:
		m.logger.Info().
			Str("task_id", id).
			Int("http_code", outcome.HTTPCode).
			Int64("latency_ms", outcome.LatencyMS).
			Msg("Download recorded")
		m.publishTaskEvent(events.EventTaskDownloaded, id, "body stored",
			map[string]string{"blob_ref": task.BlobRef})

	case types.AttemptParseSuccess:
		m.logger.Info().Str("task_id", id).Msg("Parse recorded, task completed")
		m.publishTaskEvent(events.EventTaskCompleted, id, "completed", nil)

	case types.AttemptTransientFailure:
		if task.Status == types.TaskStatusFailed {
			m.logger.Warn().Str("task_id", id).Str("error", task.Error).Msg("Retries exhausted, task failed")
			m.publishTaskEvent(events.EventTaskFailed, id, task.Error, nil)
		} else {
			m.logger.Info().
				Str("task_id", id).
				Int("retry_count", task.RetryCount).
				Time("next_attempt", task.ScheduledAt).
				Msg("Transient failure, retry scheduled")
			m.publishTaskEvent(events.EventTaskRetried, id, task.Error,
				map[string]string{"retry_count": strconv.Itoa(task.RetryCount)})
		}

	case types.AttemptTerminalFailure:
		m.logger.Warn().Str("task_id", id).Str("error", task.Error).Msg("Terminal failure recorded")
		m.publishTaskEvent(events.EventTaskFailed, id, task.Error, nil)
	}

	return task, nil
}

// AcquireProxy leases a proxy identity for a crawl attempt against the
// host. The returned binding id is the release handle.
func (m *Manager) AcquireProxy(hostID string) (*types.ProxyLease, error) {
	return m.allocator.Acquire(hostID)
}

// ReleaseProxy folds the attempt outcome into the binding's and proxy's
// health counters.
func (m *Manager) ReleaseProxy(bindingID string, outcome types.ProxyOutcome) error {
	return m.allocator.Release(bindingID, outcome)
}
