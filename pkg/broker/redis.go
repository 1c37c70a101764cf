package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/log"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Queue is a logical queue name. Each queue maps to one Redis stream.
type Queue string

const (
	QueueCrawl    Queue = "crawl"
	QueueParse    Queue = "parse"
	QueuePriority Queue = "priority"
)

// Queues lists all logical queues, in dispatch order.
var Queues = []Queue{QueuePriority, QueueCrawl, QueueParse}

const (
	publishTimeout = 2 * time.Second
	trimTimeout    = 5 * time.Second

	// payloadField is the stream entry field carrying the job JSON
	payloadField = "job"
)

// NewClient builds the Redis client and verifies connectivity. More than
// one address enables the universal client's failover/cluster modes.
func NewClient(cfg config.BrokerConfig) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return client, nil
}

// RedisBroker is the Redis Streams implementation of the work queues.
// Publishes go through XADD, consumption through consumer groups, and a
// janitor loop trims entries past their TTL.
type RedisBroker struct {
	client redis.UniversalClient
	cfg    config.BrokerConfig
	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a broker over an existing Redis client
func New(client redis.UniversalClient, cfg config.BrokerConfig) *RedisBroker {
	return &RedisBroker{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("broker"),
		stopCh: make(chan struct{}),
	}
}

// streamFor maps a logical queue to its stream key
func (b *RedisBroker) streamFor(q Queue) (string, error) {
	switch q {
	case QueueCrawl:
		return b.cfg.CrawlStream, nil
	case QueueParse:
		return b.cfg.ParseStream, nil
	case QueuePriority:
		return b.cfg.PriorityStream, nil
	}
	return "", errdefs.InvalidArgument("unknown queue %q", q)
}

// ttlFor returns the retention window for a queue's entries
func (b *RedisBroker) ttlFor(q Queue) time.Duration {
	if q == QueuePriority {
		return b.cfg.PriorityTTL
	}
	return b.cfg.WorkTTL
}

// Publish appends a job to the queue's stream. The stream's length is
// checked first; a full queue returns errdefs.ErrQueueFull so the caller
// can leave the task pending and retry next round.
func (b *RedisBroker) Publish(ctx context.Context, q Queue, payload interface{}) error {
	stream, err := b.streamFor(q)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if b.cfg.QueueMaxLength > 0 {
		length, err := b.client.XLen(ctx, stream).Result()
		if err != nil {
			metrics.PublishFailures.Inc()
			return fmt.Errorf("xlen %s: %v: %w", stream, err, errdefs.ErrBrokerUnavailable)
		}
		if length >= b.cfg.QueueMaxLength {
			return fmt.Errorf("queue %s at %d entries: %w", q, length, errdefs.ErrQueueFull)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: data},
	}).Err()
	if err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("xadd %s: %v: %w", stream, err, errdefs.ErrBrokerUnavailable)
	}

	return nil
}

// Depth returns the number of entries in a queue's stream, including
// delivered-but-unacked ones. Satisfies metrics.QueueSampler.
func (b *RedisBroker) Depth(ctx context.Context, queue string) (int64, error) {
	stream, err := b.streamFor(Queue(queue))
	if err != nil {
		return 0, err
	}

	length, err := b.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %v: %w", stream, err, errdefs.ErrBrokerUnavailable)
	}
	return length, nil
}

// Ping verifies the Redis connection. Satisfies health.Pinger.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Start launches the janitor loop
func (b *RedisBroker) Start() {
	go b.janitorLoop()
}

// Stop stops the janitor. The Redis client is left open for in-flight
// consumers; Close tears it down.
func (b *RedisBroker) Stop() {
	close(b.stopCh)
}

// Close closes the underlying Redis client
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// janitorLoop periodically trims expired and excess stream entries
func (b *RedisBroker) janitorLoop() {
	interval := b.cfg.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.trim()
		case <-b.stopCh:
			return
		}
	}
}

// trim applies TTL and max-length bounds to every stream
func (b *RedisBroker) trim() {
	ctx, cancel := context.WithTimeout(context.Background(), trimTimeout)
	defer cancel()

	for _, q := range Queues {
		stream, err := b.streamFor(q)
		if err != nil {
			continue
		}

		// Stream entry IDs are millisecond timestamps, so age bounds
		// translate directly into a MINID trim.
		if ttl := b.ttlFor(q); ttl > 0 {
			minID := strconv.FormatInt(time.Now().Add(-ttl).UnixMilli(), 10)
			if removed, err := b.client.XTrimMinID(ctx, stream, minID).Result(); err != nil {
				b.logger.Warn().Err(err).Str("stream", stream).Msg("TTL trim failed")
			} else if removed > 0 {
				b.logger.Info().Str("stream", stream).Int64("removed", removed).Msg("Trimmed expired entries")
			}
		}

		if b.cfg.QueueMaxLength > 0 {
			if err := b.client.XTrimMaxLenApprox(ctx, stream, b.cfg.QueueMaxLength, 0).Err(); err != nil {
				b.logger.Warn().Err(err).Str("stream", stream).Msg("Length trim failed")
			}
		}
	}
}

// ensureGroup creates the consumer group if it does not exist yet
func (b *RedisBroker) ensureGroup(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %v: %w", stream, err, errdefs.ErrBrokerUnavailable)
	}
	return nil
}

// DecodeCrawlJob unmarshals a crawl queue payload
func DecodeCrawlJob(payload []byte) (*types.CrawlJob, error) {
	var job types.CrawlJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode crawl job: %w", err)
	}
	return &job, nil
}

// DecodeParseJob unmarshals a parse queue payload
func DecodeParseJob(payload []byte) (*types.ParseJob, error) {
	var job types.ParseJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode parse job: %w", err)
	}
	return &job, nil
}
