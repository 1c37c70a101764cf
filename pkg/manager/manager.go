package manager

import (
	"fmt"
	"time"

	"github.com/cuemby/scuttle/pkg/blob"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/dispatcher"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/log"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/cuemby/scuttle/pkg/urlnorm"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager is the control plane: every admin and worker mutation goes
// through it. It validates, delegates the atomic work to the store, and
// publishes the resulting lifecycle events.
type Manager struct {
	store     storage.Store
	allocator *proxy.Allocator
	blobs     blob.Store
	events    *events.Broker // nil = no event publishing

	policy     storage.AttemptPolicy
	maxRetries int
	normOpts   urlnorm.Options

	logger zerolog.Logger
}

// New creates a manager from the loaded configuration. The attempt policy
// binds the configured backoff curve, so worker write-backs schedule
// retries without knowing the dispatcher's constants.
func New(store storage.Store, allocator *proxy.Allocator, blobs blob.Store, eventBroker *events.Broker, cfg *config.Config) *Manager {
	maxRetries := cfg.Retry.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Manager{
		store:     store,
		allocator: allocator,
		blobs:     blobs,
		events:    eventBroker,
		policy: storage.AttemptPolicy{
			Backoff: dispatcher.Curve(cfg.Backoff.Base, cfg.Backoff.Cap),
		},
		maxRetries: maxRetries,
		normOpts: urlnorm.Options{
			LowercaseHost:    cfg.URLNormalize.LowercaseHost,
			StripFragment:    cfg.URLNormalize.StripFragment,
			SortQuery:        cfg.URLNormalize.SortQuery,
			StripEmptyQuery:  cfg.URLNormalize.StripEmptyQuery,
			StripDefaultPort: cfg.URLNormalize.StripDefaultPort,
		},
		logger: log.WithComponent("manager"),
	}
}

// EventBroker exposes the event broker for the SSE endpoint.
func (m *Manager) EventBroker() *events.Broker {
	return m.events
}

// Counts proxies the store's entity counts for the metrics sampler.
func (m *Manager) Counts() (*types.StoreCounts, error) {
	return m.store.Counts()
}

// SubmitTask normalizes and fingerprints the URL, fills option defaults
// and inserts the task as pending. A live row already owning the
// fingerprint fails with a duplicate error naming the existing task.
func (m *Manager) SubmitTask(hostID, rawURL string, opts types.TaskOptions) (*types.CrawlTask, error) {
	host, err := m.store.GetHost(hostID)
	if err != nil {
		return nil, err
	}

	task, err := m.buildTask(host, rawURL, opts)
	if err != nil {
		return nil, err
	}

	if err := m.store.CreateTask(task); err != nil {
		if errdefs.IsDuplicate(err) {
			metrics.DuplicateSubmissions.Inc()
		}
		return nil, err
	}

	metrics.TasksSubmitted.Inc()
	m.logger.Info().
		Str("task_id", task.ID).
		Str("host_id", host.ID).
		Str("url", task.URL).
		Int("priority", task.Priority).
		Msg("Task submitted")
	m.publishTaskEvent(events.EventTaskSubmitted, task.ID, task.URL,
		map[string]string{"host_id": host.ID})

	return task, nil
}

// SubmitTasksBulk inserts up to the bulk limit of URLs for one host.
// Invalid URLs and duplicates are reported per item; the rest insert.
func (m *Manager) SubmitTasksBulk(hostID string, urls []string, opts types.TaskOptions) (*types.BulkSubmitResult, error) {
	if len(urls) > storage.MaxBulkTasks {
		return nil, errdefs.InvalidArgument("bulk submit of %d urls exceeds the %d limit", len(urls), storage.MaxBulkTasks)
	}

	host, err := m.store.GetHost(hostID)
	if err != nil {
		return nil, err
	}

	result := &types.BulkSubmitResult{Inserted: []string{}}
	tasks := make([]*types.CrawlTask, 0, len(urls))
	for _, raw := range urls {
		task, err := m.buildTask(host, raw, opts)
		if err != nil {
			result.Invalid = append(result.Invalid, types.BulkInvalid{URL: raw, Reason: err.Error()})
			continue
		}
		tasks = append(tasks, task)
	}

	if len(tasks) > 0 {
		inserted, err := m.store.CreateTasksBulk(tasks)
		if err != nil {
			return nil, err
		}
		result.Inserted = inserted.Inserted
		result.Duplicates = inserted.Duplicates
	}

	metrics.TasksSubmitted.Add(float64(len(result.Inserted)))
	if n := len(result.Duplicates); n > 0 {
		metrics.DuplicateSubmissions.Add(float64(n))
	}

	m.logger.Info().
		Str("host_id", host.ID).
		Int("inserted", len(result.Inserted)).
		Int("duplicates", len(result.Duplicates)).
		Int("invalid", len(result.Invalid)).
		Msg("Bulk submission processed")
	// One summary event; per-task events at this volume would swamp the
	// SSE subscribers.
	m.publishEvent(events.EventTaskSubmitted, host.ID,
		fmt.Sprintf("bulk submission: %d inserted", len(result.Inserted)),
		map[string]string{
			"host_id":  host.ID,
			"inserted": fmt.Sprintf("%d", len(result.Inserted)),
		})

	return result, nil
}

// buildTask resolves option defaults against the host and produces the row
// to insert. The URL stored is the normalized form.
func (m *Manager) buildTask(host *types.Host, rawURL string, opts types.TaskOptions) (*types.CrawlTask, error) {
	normalized, err := urlnorm.NormalizeWith(rawURL, m.normOpts)
	if err != nil {
		return nil, err
	}
	fingerprint := urlnorm.Fingerprint(normalized)

	priority := opts.Priority
	if priority == 0 {
		priority = types.PriorityDefault
	}
	if !types.ValidPriority(priority) {
		return nil, errdefs.InvalidArgument("priority %d outside 1..10", priority)
	}

	now := time.Now().UTC()
	scheduledAt := now
	if opts.ScheduledAt != nil {
		scheduledAt = opts.ScheduledAt.UTC()
	}

	maxRetries := m.maxRetries
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return nil, errdefs.InvalidArgument("max_retries %d is negative", *opts.MaxRetries)
		}
		maxRetries = *opts.MaxRetries
	}

	interval := opts.Interval
	if opts.IsRecurring {
		if interval == 0 {
			interval = host.DefaultInterval
		}
		if interval <= 0 {
			return nil, errdefs.InvalidArgument("recurring task needs an interval and host %s has no default", host.ID)
		}
	} else {
		interval = 0
	}

	return &types.CrawlTask{
		ID:          uuid.New().String(),
		HostID:      host.ID,
		URL:         normalized,
		Fingerprint: fingerprint,
		Status:      types.TaskStatusPending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		MaxRetries:  maxRetries,
		IsRecurring: opts.IsRecurring,
		Interval:    interval,
		CreatedBy:   opts.CreatedBy,
	}, nil
}

// GetTask returns one task row.
func (m *Manager) GetTask(id string) (*types.CrawlTask, error) {
	return m.store.GetTask(id)
}

// QueryTasks runs an admin listing query.
func (m *Manager) QueryTasks(q types.TaskQuery) (*types.TaskPage, error) {
	return m.store.QueryTasks(q)
}

// PauseTask parks a non-terminal task. Broker messages already published
// are not drained; workers observe the paused status at claim and re-ack.
func (m *Manager) PauseTask(id string) (*types.CrawlTask, error) {
	swapped, task, err := m.store.TransitionTask(id, pausableStates, types.TaskStatusPaused, nil)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("pause", task.Status)
	}

	m.logger.Info().Str("task_id", id).Msg("Task paused")
	m.publishTaskEvent(events.EventTaskPaused, id, "paused by operator", nil)
	return task, nil
}

// ResumeTask returns a paused task to pending, immediately eligible for
// dispatch. The retry count is preserved.
func (m *Manager) ResumeTask(id string) (*types.CrawlTask, error) {
	now := time.Now().UTC()
	swapped, task, err := m.store.TransitionTask(id, resumableStates, types.TaskStatusPending,
		func(t *types.CrawlTask) {
			t.ScheduledAt = now
		})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("resume", task.Status)
	}

	m.logger.Info().Str("task_id", id).Msg("Task resumed")
	m.publishTaskEvent(events.EventTaskResumed, id, "resumed by operator", nil)
	return task, nil
}

// CancelTask moves any non-terminal task (paused included) to cancelled.
// In-flight work is not aborted; workers drop the task at their next
// status check.
func (m *Manager) CancelTask(id string) (*types.CrawlTask, error) {
	now := time.Now().UTC()
	swapped, task, err := m.store.TransitionTask(id, cancellableStates, types.TaskStatusCancelled,
		func(t *types.CrawlTask) {
			t.CompletedAt = &now
			t.NextRunAt = nil
		})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("cancel", task.Status)
	}

	m.logger.Info().Str("task_id", id).Msg("Task cancelled")
	m.publishTaskEvent(events.EventTaskCancelled, id, "cancelled by operator", nil)
	return task, nil
}

// RestartTask revives a failed or completed task as a fresh pending row:
// download outcome fields are cleared and the fingerprint index entry is
// re-inserted. If another live row owns the URL by now, the restart fails
// with a duplicate error.
func (m *Manager) RestartTask(id string, opts types.RestartOptions) (*types.CrawlTask, error) {
	if opts.Priority != 0 && !types.ValidPriority(opts.Priority) {
		return nil, errdefs.InvalidArgument("priority %d outside 1..10", opts.Priority)
	}

	now := time.Now().UTC()
	swapped, task, err := m.store.TransitionTask(id, restartableStates, types.TaskStatusPending,
		func(t *types.CrawlTask) {
			t.StartedAt = nil
			t.CompletedAt = nil
			t.Error = ""
			t.BlobRef = ""
			t.HTTPCode = 0
			t.LatencyMS = 0
			t.ProxyID = ""
			t.NextRunAt = nil
			if opts.ResetRetries {
				t.RetryCount = 0
			}
			if opts.Priority != 0 {
				t.Priority = opts.Priority
			}
			if opts.ScheduledAt != nil {
				t.ScheduledAt = opts.ScheduledAt.UTC()
			} else {
				t.ScheduledAt = now
			}
		})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("restart", task.Status)
	}

	m.logger.Info().Str("task_id", id).Msg("Task restarted")
	m.publishTaskEvent(events.EventTaskRestarted, id, "full restart", nil)
	return task, nil
}

// RestartParseOnly re-runs the parse stage of a failed or completed task
// against its stored body, skipping the download. The blob must still
// exist; the dispatcher's sweep publishes the ParseJob on its next round.
func (m *Manager) RestartParseOnly(id string) (*types.CrawlTask, error) {
	task, err := m.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.BlobRef == "" {
		return nil, fmt.Errorf("task %s has no stored body: %w", id, errdefs.ErrHTMLNotAvailable)
	}
	exists, err := m.blobs.Exists(task.BlobRef)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("blob %s is gone: %w", task.BlobRef, errdefs.ErrHTMLNotAvailable)
	}

	swapped, task, err := m.store.TransitionTask(id, restartableStates, types.TaskStatusDownloaded,
		func(t *types.CrawlTask) {
			t.CompletedAt = nil
			t.Error = ""
			t.NextRunAt = nil
		})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, illegalTransition("restart parse for", task.Status)
	}

	m.logger.Info().Str("task_id", id).Str("blob_ref", task.BlobRef).Msg("Task restarted for parse only")
	m.publishTaskEvent(events.EventTaskRestarted, id, "parse-only restart",
		map[string]string{"mode": "parse_only"})
	return task, nil
}

// BulkRestartFailed restarts failed tasks matching the filter, newest
// first, up to limit. Per-item failures (a URL resubmitted in the
// meantime, for example) are reported, not fatal.
func (m *Manager) BulkRestartFailed(hostID string, failedAfter *time.Time, limit int, opts types.RestartOptions) (*types.BulkRestartResult, error) {
	if limit <= 0 {
		limit = storage.DefaultQueryLimit
	}

	page, err := m.store.QueryTasks(types.TaskQuery{
		Filter: types.TaskFilter{
			Statuses:    []types.TaskStatus{types.TaskStatusFailed},
			HostID:      hostID,
			FailedAfter: failedAfter,
		},
		Sort:  types.TaskSortCreatedAt,
		Desc:  true,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	result := &types.BulkRestartResult{Restarted: []string{}}
	for _, task := range page.Tasks {
		if _, err := m.RestartTask(task.ID, opts); err != nil {
			result.Failed = append(result.Failed, types.BulkOpError{TaskID: task.ID, Error: err.Error()})
			continue
		}
		result.Restarted = append(result.Restarted, task.ID)
	}

	m.logger.Info().
		Int("restarted", len(result.Restarted)).
		Int("failed", len(result.Failed)).
		Msg("Bulk restart processed")
	return result, nil
}

// ChangePriority updates the dispatch priority. Already-published
// messages keep their original queue route; the new priority applies from
// the next dispatch (and to future recurrence children).
func (m *Manager) ChangePriority(id string, priority int) (*types.CrawlTask, error) {
	if !types.ValidPriority(priority) {
		return nil, errdefs.InvalidArgument("priority %d outside 1..10", priority)
	}

	task, err := m.store.UpdateTaskPriority(id, priority)
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("task_id", id).Int("priority", priority).Msg("Task priority changed")
	m.publishTaskEvent(events.EventTaskUpdated, id, "priority changed",
		map[string]string{"priority": fmt.Sprintf("%d", priority)})
	return task, nil
}

func (m *Manager) publishTaskEvent(eventType events.EventType, taskID, message string, metadata map[string]string) {
	if m.events == nil {
		return
	}
	m.events.PublishTask(eventType, taskID, message, metadata)
}

func (m *Manager) publishEvent(eventType events.EventType, id, message string, metadata map[string]string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{
		ID:       id,
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}
