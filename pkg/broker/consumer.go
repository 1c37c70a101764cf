package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/scuttle/pkg/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Delivery is one message handed to a worker. Ack confirms processing and
// frees a prefetch slot; unacked deliveries are reassigned to another
// consumer once they sit idle past the visibility timeout.
type Delivery struct {
	Queue   Queue
	ID      string
	Payload []byte
	Ack     func() error
}

// Consumer reads one queue through the shared consumer group. Each
// consumer owns a name within the group so Redis can track its pending
// entries.
type Consumer struct {
	broker *RedisBroker
	queue  Queue
	stream string
	name   string
	out    chan Delivery
	slots  chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// Consumer creates a consumer for a queue. name identifies this consumer
// within the group (hostname-pid works well).
func (b *RedisBroker) Consumer(q Queue, name string) (*Consumer, error) {
	stream, err := b.streamFor(q)
	if err != nil {
		return nil, err
	}

	prefetch := b.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}

	return &Consumer{
		broker: b,
		queue:  q,
		stream: stream,
		name:   name,
		out:    make(chan Delivery, prefetch),
		slots:  make(chan struct{}, prefetch),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.WithQueue(string(q)),
	}, nil
}

// Start creates the consumer group if needed and begins reading
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.broker.ensureGroup(ctx, c.stream); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

// Deliveries returns the channel of incoming messages. It is closed when
// the consumer stops.
func (c *Consumer) Deliveries() <-chan Delivery {
	return c.out
}

// Stop stops the read loop and waits for it to exit. Unacked deliveries
// stay pending in the group and are reassigned after the visibility
// timeout.
func (c *Consumer) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.doneCh)
	defer close(c.out)

	claimCursor := "0-0"

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Steal deliveries another consumer left idle past the
		// visibility timeout.
		claimed, next, err := c.broker.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.broker.cfg.Group,
			Consumer: c.name,
			MinIdle:  c.broker.cfg.VisibilityTimeout,
			Start:    claimCursor,
			Count:    int64(cap(c.slots)),
		}).Result()
		if err == nil {
			claimCursor = next
			if len(claimed) > 0 {
				c.logger.Info().Int("count", len(claimed)).Msg("Reclaimed idle deliveries")
			}
			if !c.deliver(ctx, claimed) {
				return
			}
		}

		streams, err := c.broker.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.broker.cfg.Group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    int64(cap(c.slots)),
			Block:    500 * time.Millisecond,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn().Err(err).Msg("Read failed")
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-c.stopCh:
				return
			}
			continue
		}

		for _, s := range streams {
			if !c.deliver(ctx, s.Messages) {
				return
			}
		}
	}
}

// deliver pushes messages to the output channel, holding a prefetch slot
// per in-flight delivery. Returns false when the consumer is stopping.
func (c *Consumer) deliver(ctx context.Context, msgs []redis.XMessage) bool {
	for _, msg := range msgs {
		payload, ok := msg.Values[payloadField].(string)
		if !ok {
			// Entry without a job field cannot be processed; ack it
			// away so it stops being redelivered.
			c.broker.client.XAck(ctx, c.stream, c.broker.cfg.Group, msg.ID)
			c.logger.Warn().Str("entry_id", msg.ID).Msg("Dropped malformed stream entry")
			continue
		}

		select {
		case c.slots <- struct{}{}:
		case <-c.stopCh:
			return false
		case <-ctx.Done():
			return false
		}

		entryID := msg.ID
		var once sync.Once
		ack := func() error {
			var err error
			once.Do(func() {
				<-c.slots
				err = c.broker.client.XAck(context.Background(), c.stream, c.broker.cfg.Group, entryID).Err()
			})
			return err
		}

		select {
		case c.out <- Delivery{Queue: c.queue, ID: entryID, Payload: []byte(payload), Ack: ack}:
		case <-c.stopCh:
			<-c.slots
			return false
		case <-ctx.Done():
			<-c.slots
			return false
		}
	}
	return true
}
