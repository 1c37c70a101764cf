package dispatcher

import (
	"context"
	"time"

	"github.com/cuemby/scuttle/pkg/broker"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/log"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/rs/zerolog"
)

// Publisher is the slice of the queue adapter the dispatcher writes to
type Publisher interface {
	Publish(ctx context.Context, q broker.Queue, payload interface{}) error
}

// republishDelay spaces out the retry after a failed publish so one bad
// broker round trip doesn't hammer the same task every tick.
const republishDelay = 30 * time.Second

// Dispatcher moves due tasks onto the work queues. Every effect is
// guarded by a store compare-and-swap, so any number of replicas can run
// the same loop against the same store.
type Dispatcher struct {
	store     storage.Store
	publisher Publisher
	events    *events.Broker // nil = no event publishing

	interval  time.Duration
	batchSize int
	deadlines storage.Deadlines

	logger zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher from the loaded configuration
func NewDispatcher(store storage.Store, publisher Publisher, eventBroker *events.Broker, cfg *config.Config) *Dispatcher {
	interval := cfg.Dispatcher.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	batchSize := cfg.Dispatcher.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Dispatcher{
		store:     store,
		publisher: publisher,
		events:    eventBroker,
		interval:  interval,
		batchSize: batchSize,
		deadlines: storage.Deadlines{
			Queued:      cfg.StateDeadline.Queued,
			Crawling:    cfg.StateDeadline.Crawling,
			QueuedParse: cfg.StateDeadline.QueuedParse,
			Parsing:     cfg.StateDeadline.Parsing,
		},
		logger: log.WithComponent("dispatcher"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop stops the loop and waits for the current round to finish
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.round(time.Now().UTC())
		case <-d.stopCh:
			return
		}
	}
}

// round runs the four dispatch phases in order: reclaim expired leases,
// materialize due recurrences, sweep downloaded rows to the parse queue,
// dispatch due pending tasks to the crawl queues.
func (d *Dispatcher) round(now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchRoundDuration)

	ctx := context.Background()

	d.reclaim(now)
	d.materializeRecurrences(now)
	d.sweepDownloaded(ctx)
	d.dispatchDue(ctx, now)
}

// reclaim returns tasks whose lease expired to pending, or fails them
// when their retries are spent.
func (d *Dispatcher) reclaim(now time.Time) {
	reclaimed, err := d.store.ReclaimExpired(now, d.deadlines)
	if err != nil {
		d.logger.Error().Err(err).Msg("Reclaim scan failed")
		return
	}

	for _, task := range reclaimed {
		metrics.TasksReclaimed.Inc()
		if task.Status == types.TaskStatusFailed {
			d.logger.Warn().Str("task_id", task.ID).Str("error", task.Error).Msg("Task failed after expired lease")
			d.publishTaskEvent(events.EventTaskFailed, task.ID, task.Error, nil)
		} else {
			d.logger.Info().Str("task_id", task.ID).Int("retry_count", task.RetryCount).Msg("Reclaimed expired lease")
			d.publishTaskEvent(events.EventTaskReclaimed, task.ID, task.Error, nil)
		}
	}
}

// materializeRecurrences creates the next run for completed recurring
// tasks whose schedule has arrived.
func (d *Dispatcher) materializeRecurrences(now time.Time) {
	due, err := d.store.DueRecurring(now)
	if err != nil {
		d.logger.Error().Err(err).Msg("Recurrence scan failed")
		return
	}

	for _, parent := range due {
		child, err := d.store.MaterializeRecurrence(parent.ID, now)
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", parent.ID).Msg("Failed to materialize recurrence")
			continue
		}
		if child == nil {
			// Another replica advanced the schedule, or a live row
			// already owns the URL.
			continue
		}

		metrics.RecurrencesMaterialized.Inc()
		d.logger.Info().
			Str("task_id", child.ID).
			Str("parent_id", parent.ID).
			Int("recur_count", child.RecurCount).
			Msg("Materialized recurring task")
		d.publishTaskEvent(events.EventTaskRecurred, child.ID, "recurrence materialized",
			map[string]string{"parent_id": parent.ID})
	}
}

// sweepDownloaded moves downloaded tasks to queued_parse and publishes
// their parse jobs. A failed publish reverts the row so the next round
// retries it.
func (d *Dispatcher) sweepDownloaded(ctx context.Context) {
	page, err := d.store.QueryTasks(types.TaskQuery{
		Filter: types.TaskFilter{Statuses: []types.TaskStatus{types.TaskStatusDownloaded}},
		Limit:  d.batchSize,
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("Downloaded sweep query failed")
		return
	}

	parserTags := make(map[string]string)

	for _, task := range page.Tasks {
		swapped, _, err := d.store.TransitionTask(task.ID,
			[]types.TaskStatus{types.TaskStatusDownloaded}, types.TaskStatusQueuedParse, nil)
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", task.ID).Msg("Parse-queue transition failed")
			continue
		}
		if !swapped {
			continue
		}

		tag, ok := parserTags[task.HostID]
		if !ok {
			host, err := d.store.GetHost(task.HostID)
			if err == nil {
				tag = host.ParserTag
			}
			parserTags[task.HostID] = tag
		}

		job := &types.ParseJob{
			TaskID:    task.ID,
			HostID:    task.HostID,
			BlobRef:   task.BlobRef,
			ParserTag: tag,
			Attempt:   task.RetryCount + 1,
		}

		if err := d.publisher.Publish(ctx, broker.QueueParse, job); err != nil {
			d.revert(task.ID, types.TaskStatusQueuedParse, types.TaskStatusDownloaded, time.Time{})
			d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Parse publish failed, reverted")
			if errdefs.IsBrokerUnavailable(err) {
				return
			}
			continue
		}

		metrics.TasksDispatched.WithLabelValues(string(broker.QueueParse)).Inc()
		d.publishTaskEvent(events.EventTaskDispatched, task.ID, "queued for parse",
			map[string]string{"queue": string(broker.QueueParse)})
	}
}

// dispatchDue claims due pending tasks and publishes their crawl jobs,
// routing urgent priorities to the fast lane.
func (d *Dispatcher) dispatchDue(ctx context.Context, now time.Time) {
	due, err := d.store.FetchDue(d.batchSize, now)
	if err != nil {
		d.logger.Error().Err(err).Msg("Due fetch failed")
		return
	}
	metrics.DispatchBatchSize.Observe(float64(len(due)))

	for _, task := range due {
		swapped, _, err := d.store.TransitionTask(task.ID,
			[]types.TaskStatus{types.TaskStatusPending}, types.TaskStatusQueued, nil)
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", task.ID).Msg("Queue transition failed")
			continue
		}
		if !swapped {
			// Another replica claimed it first
			continue
		}

		queue := broker.QueueCrawl
		if task.Priority <= types.PriorityFastLane {
			queue = broker.QueuePriority
		}

		job := &types.CrawlJob{
			TaskID:   task.ID,
			URL:      task.URL,
			HostID:   task.HostID,
			Priority: task.Priority,
			Attempt:  task.RetryCount + 1,
		}

		if err := d.publisher.Publish(ctx, queue, job); err != nil {
			d.revert(task.ID, types.TaskStatusQueued, types.TaskStatusPending, now.Add(republishDelay))
			d.logger.Warn().Err(err).Str("task_id", task.ID).Str("queue", string(queue)).Msg("Crawl publish failed, reverted")
			if errdefs.IsBrokerUnavailable(err) {
				// Queue full or broker down: the rest of the batch
				// would fail the same way.
				return
			}
			continue
		}

		metrics.TasksDispatched.WithLabelValues(string(queue)).Inc()
		d.logger.Debug().
			Str("task_id", task.ID).
			Str("queue", string(queue)).
			Int("priority", task.Priority).
			Msg("Task dispatched")
		d.publishTaskEvent(events.EventTaskDispatched, task.ID, "queued for crawl",
			map[string]string{"queue": string(queue)})
	}
}

// revert undoes a claim whose publish failed. A zero reschedule keeps the
// task immediately eligible; otherwise ScheduledAt moves out to spread
// retries.
func (d *Dispatcher) revert(taskID string, from, to types.TaskStatus, rescheduleAt time.Time) {
	var patch storage.TransitionPatch
	if !rescheduleAt.IsZero() {
		patch = func(t *types.CrawlTask) {
			t.ScheduledAt = rescheduleAt
		}
	}

	if _, _, err := d.store.TransitionTask(taskID, []types.TaskStatus{from}, to, patch); err != nil {
		d.logger.Error().Err(err).Str("task_id", taskID).Msg("Revert failed; reclaim will recover the task")
	}
}

func (d *Dispatcher) publishTaskEvent(eventType events.EventType, taskID, message string, metadata map[string]string) {
	if d.events == nil {
		return
	}
	d.events.PublishTask(eventType, taskID, message, metadata)
}
