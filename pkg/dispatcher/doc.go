// Package dispatcher runs the periodic loop that feeds the work queues.
//
// # Overview
//
// The dispatcher is the only component that moves tasks from the store
// onto the broker. Each tick runs four phases in a fixed order:
//
//	reclaim     return tasks with expired leases to pending (or fail
//	            them when their retries are spent)
//	recurrence  materialize the next run of completed recurring tasks
//	sweep       move downloaded tasks to queued_parse and publish
//	            their parse jobs
//	dispatch    claim due pending tasks and publish their crawl jobs
//
// Ordering matters: a lease reclaimed in phase one is pending and due,
// so phase four re-dispatches it within the same round.
//
// # Replication
//
// Any number of dispatcher replicas can run against the same store.
// Every effect is guarded by a compare-and-swap transition, so when two
// replicas race for the same task exactly one publishes; the loser sees
// swapped=false and moves on. Duplicate publishes after a crash between
// publish and nothing are bounded by the same CAS on the worker side.
//
// # Priority Routing
//
// Tasks with priority 1 or 2 go to the priority queue, everything else
// to the crawl queue. Workers drain the priority queue first, so urgent
// one-off submissions overtake bulk backfills without a separate pool.
//
// # Publish Failures
//
// A failed publish reverts the claim. Parse-side reverts go straight
// back to downloaded so the next round retries them; crawl-side reverts
// push scheduled_at out by thirty seconds so a flapping broker doesn't
// see the same task every tick. When the failure is queue-full or
// broker-down the rest of the batch is skipped, since it would fail the
// same way.
//
// # Usage
//
//	d := dispatcher.NewDispatcher(store, redisBroker, eventBroker, cfg)
//	d.Start()
//	defer d.Stop()
//
// Stop waits for the in-flight round to finish before returning.
//
// # Integration Points
//
//   - pkg/storage: FetchDue, TransitionTask, ReclaimExpired,
//     DueRecurring and MaterializeRecurrence carry the transactional
//     weight; the dispatcher only sequences them.
//   - pkg/broker: Publish with queue-full and unavailable sentinels.
//   - pkg/events: task.dispatched, task.reclaimed, task.recurred and
//     task.failed fan out to the SSE stream.
//   - pkg/metrics: round duration histogram, per-queue dispatch
//     counters, reclaim and recurrence counters.
package dispatcher
