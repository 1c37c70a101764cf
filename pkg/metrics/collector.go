package metrics

import (
	"context"
	"time"

	"github.com/cuemby/scuttle/pkg/types"
)

// StoreSampler is the slice of the store the collector reads
type StoreSampler interface {
	Counts() (*types.StoreCounts, error)
}

// QueueSampler reports broker queue depths
type QueueSampler interface {
	Depth(ctx context.Context, queue string) (int64, error)
}

// Collector periodically samples store and broker state into gauges
type Collector struct {
	store  StoreSampler
	broker QueueSampler
	queues []string
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector. broker may be nil when the
// process runs without one (tests, offline maintenance).
func NewCollector(store StoreSampler, broker QueueSampler, queues []string) *Collector {
	return &Collector{
		store:  store,
		broker: broker,
		queues: queues,
		stopCh: make(chan struct{}),
	}
}

// sampleInterval is how often the gauges are refreshed. Scrapes between
// samples see the previous values.
const sampleInterval = 15 * time.Second

// Start launches the sampling loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop halts the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) run() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	// Prime the gauges before the first tick.
	c.collect()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect() {
	c.collectStoreMetrics()
	c.collectQueueMetrics()
}

func (c *Collector) collectStoreMetrics() {
	counts, err := c.store.Counts()
	if err != nil {
		return
	}

	// Walk the full status list so emptied states drop back to zero.
	for _, status := range types.AllTaskStatuses {
		TasksByStatus.WithLabelValues(string(status)).Set(float64(counts.TasksByStatus[status]))
	}

	HostsTotal.Set(float64(counts.Hosts))
	ProxiesTotal.Set(float64(counts.Proxies))
	BindingsTotal.Set(float64(counts.Bindings))
}

func (c *Collector) collectQueueMetrics() {
	if c.broker == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, queue := range c.queues {
		depth, err := c.broker.Depth(ctx, queue)
		if err != nil {
			continue
		}
		QueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}
