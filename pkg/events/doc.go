// Package events is the in-process event bus behind the watch endpoint.
//
// The manager, dispatcher and proxy allocator publish a lifecycle event
// for every mutation they perform. Subscribers (the SSE bridge in
// pkg/api, tests, ad hoc observers) see the merged stream without the
// publishers knowing they exist.
//
// # Architecture
//
// One goroutine fans a buffered publish channel out to per-subscriber
// queues:
//
//	manager ────┐
//	dispatcher ─┼──► eventCh (100) ──► fanout ──► subscriber (50) ──► SSE client
//	allocator ──┘                         │
//	                                      └─────► subscriber (50) ──► test waiter
//
// Fanout never waits: a subscriber whose queue is full misses that event.
//
// # Delivery Semantics
//
// Best-effort, at-most-once, in-process:
//
//   - Publish does not wait for delivery and returns immediately after
//     the broker stops.
//   - A slow subscriber drops events instead of stalling the pipeline.
//   - Nothing is persisted. A restart loses unconsumed events.
//   - Authoritative state lives in the store; events are notifications,
//     not a source of truth.
//
// # Event Vocabulary
//
// Task lifecycle events follow the pipeline (task.submitted through
// task.completed or task.failed) plus the operator verbs (task.paused,
// task.resumed, task.cancelled, task.restarted) and the dispatcher's own
// task.reclaimed and task.recurred. Admin surfaces emit host.*, proxy.*
// and binding.* events. The full set is the EventType constant block.
//
// # Usage
//
// Publishing:
//
//	broker := events.NewBroker()
//	broker.Start()
//	defer broker.Stop()
//
//	broker.PublishTask(events.EventTaskFailed, task.ID, "retries exhausted",
//		map[string]string{"host_id": task.HostID})
//
// Subscribing:
//
//	sub := broker.Subscribe()
//	defer broker.Unsubscribe(sub)
//
//	for event := range sub {
//		log.Info().Str("type", string(event.Type)).Msg(event.Message)
//	}
//
// # Integration Points
//
//   - pkg/manager publishes on every control-plane mutation.
//   - pkg/dispatcher publishes dispatch, reclaim and recurrence events.
//   - pkg/proxy publishes allocation and binding health events.
//   - pkg/api streams the feed to clients over SSE.
package events
