package events

import (
	"sync"
	"time"
)

// EventType names a lifecycle event. The value doubles as the SSE event
// name on the watch endpoint, so renaming one is a wire format change.
type EventType string

const (
	EventTaskSubmitted    EventType = "task.submitted"
	EventTaskDispatched   EventType = "task.dispatched"
	EventTaskClaimed      EventType = "task.claimed"
	EventTaskDownloaded   EventType = "task.downloaded"
	EventTaskCompleted    EventType = "task.completed"
	EventTaskFailed       EventType = "task.failed"
	EventTaskRetried      EventType = "task.retried"
	EventTaskPaused       EventType = "task.paused"
	EventTaskResumed      EventType = "task.resumed"
	EventTaskCancelled    EventType = "task.cancelled"
	EventTaskRestarted    EventType = "task.restarted"
	EventTaskUpdated      EventType = "task.updated"
	EventTaskReclaimed    EventType = "task.reclaimed"
	EventTaskRecurred     EventType = "task.recurred"
	EventHostCreated      EventType = "host.created"
	EventHostUpdated      EventType = "host.updated"
	EventHostDeleted      EventType = "host.deleted"
	EventProxyCreated     EventType = "proxy.created"
	EventProxyUpdated     EventType = "proxy.updated"
	EventProxyDeleted     EventType = "proxy.deleted"
	EventProxyDisabled    EventType = "proxy.disabled"
	EventProxyReenabled   EventType = "proxy.reenabled"
	EventBindingCreated   EventType = "binding.created"
	EventBindingDeleted   EventType = "binding.deleted"
	EventBindingExhausted EventType = "binding.exhausted"
)

// Event is one entry in the stream. ID carries the subject's id (task,
// host, proxy or binding) and Metadata carries event-specific context.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber receives a copy of every event published while it is
// registered. A subscriber that falls behind loses events rather than
// slowing the broker down.
type Subscriber chan *Event

const (
	// publishBuffer absorbs bursts between publishers and the fanout
	// goroutine.
	publishBuffer = 100

	// subscriberBuffer is the per-subscriber queue depth. Fanout drops
	// events for a subscriber whose queue is full.
	subscriberBuffer = 50
)

// Broker fans published events out to all subscribers. Publishing is
// decoupled from delivery, so the manager and dispatcher never wait on a
// slow SSE client.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}

	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
		eventCh:     make(chan *Event, publishBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the fanout goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop shuts the broker down. Events still queued at stop time are
// dropped. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new subscriber channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Calling it
// twice with the same subscriber is a no-op.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for fanout, stamping the timestamp if the
// caller left it zero. Returns immediately once the broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishTask publishes a task lifecycle event carrying the task id as
// both the event ID and a metadata field.
func (b *Broker) PublishTask(eventType EventType, taskID, message string, metadata map[string]string) {
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata["task_id"] = taskID
	b.Publish(&Event{
		ID:       taskID,
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}

// SubscriberCount reports how many subscribers are registered.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.fanout(event)
		case <-b.stopCh:
			return
		}
	}
}

// fanout delivers one event to every subscriber with queue space.
func (b *Broker) fanout(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
