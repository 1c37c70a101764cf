package storage

import (
	"context"
	"time"

	"github.com/cuemby/scuttle/pkg/types"
)

// TransitionPatch mutates a task row inside a successful compare-and-swap,
// after the status and transition timestamp have been set.
type TransitionPatch func(*types.CrawlTask)

// Deadlines holds the per-state lease durations used by reclaim scans.
type Deadlines struct {
	Queued      time.Duration
	Crawling    time.Duration
	QueuedParse time.Duration
	Parsing     time.Duration
}

// For returns the lease duration for a status, or zero for states that
// carry no lease.
func (d Deadlines) For(s types.TaskStatus) time.Duration {
	switch s {
	case types.TaskStatusQueued:
		return d.Queued
	case types.TaskStatusCrawling:
		return d.Crawling
	case types.TaskStatusQueuedParse:
		return d.QueuedParse
	case types.TaskStatusParsing:
		return d.Parsing
	}
	return 0
}

// AttemptPolicy carries the config-derived knobs RecordAttempt needs.
type AttemptPolicy struct {
	// Backoff maps a retry count (>= 1) to the delay before the next
	// attempt. Required for transient-failure outcomes.
	Backoff func(retryCount int) time.Duration
}

// OutcomePolicy carries the allocator health thresholds RecordProxyOutcome
// applies.
type OutcomePolicy struct {
	BindingFailureThreshold int
	GlobalFailureThreshold  int
	ReenableGrace           time.Duration
}

// OutcomeResult reports what a proxy outcome changed, for metrics and events.
type OutcomeResult struct {
	Binding *types.HostProxyBinding
	Proxy   *types.Proxy

	// BindingExhausted is set when this outcome pushed the binding's
	// consecutive failures to the threshold.
	BindingExhausted bool

	// ProxyDisabled is set when this outcome auto-disabled the proxy.
	ProxyDisabled bool

	// ProxyReenabled is set when a success after the grace period
	// re-enabled a disabled proxy.
	ProxyReenabled bool
}

// Store defines the interface for crawl state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Hosts
	CreateHost(host *types.Host) error
	GetHost(id string) (*types.Host, error)
	GetHostByName(name string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	DeleteHost(id string) error

	// Tasks
	CreateTask(task *types.CrawlTask) error
	CreateTasksBulk(tasks []*types.CrawlTask) (*types.BulkSubmitResult, error)
	GetTask(id string) (*types.CrawlTask, error)
	ListTasksByHost(hostID string) ([]*types.CrawlTask, error)
	DeleteTask(id string) error

	// Task lifecycle
	FetchDue(limit int, now time.Time) ([]*types.CrawlTask, error)
	TransitionTask(id string, from []types.TaskStatus, to types.TaskStatus, patch TransitionPatch) (bool, *types.CrawlTask, error)
	UpdateTaskPriority(id string, priority int) (*types.CrawlTask, error)
	RecordAttempt(id string, outcome types.Attempt, policy AttemptPolicy, now time.Time) (*types.CrawlTask, error)
	ReclaimExpired(now time.Time, deadlines Deadlines) ([]*types.CrawlTask, error)
	DueRecurring(now time.Time) ([]*types.CrawlTask, error)
	MaterializeRecurrence(parentID string, now time.Time) (*types.CrawlTask, error)
	QueryTasks(q types.TaskQuery) (*types.TaskPage, error)

	// Proxies
	CreateProxy(proxy *types.Proxy) error
	GetProxy(id string) (*types.Proxy, error)
	ListProxies() ([]*types.Proxy, error)
	UpdateProxy(proxy *types.Proxy) error
	DeleteProxy(id string) error

	// Bindings
	CreateBinding(binding *types.HostProxyBinding) error
	GetBinding(id string) (*types.HostProxyBinding, error)
	GetBindingByPair(hostID, proxyID string) (*types.HostProxyBinding, error)
	ListBindings() ([]*types.HostProxyBinding, error)
	ListBindingsByHost(hostID string) ([]*types.HostProxyBinding, error)
	UpdateBinding(binding *types.HostProxyBinding) error
	DeleteBinding(id string) error

	// Proxy allocation
	AcquireProxyForHost(hostID string, now time.Time, bindingFailureThreshold int) (*types.ProxyLease, error)
	RecordProxyOutcome(bindingID string, outcome types.ProxyOutcome, policy OutcomePolicy, now time.Time) (*OutcomeResult, error)

	// Metrics support
	CountTasksByStatus() (map[types.TaskStatus]int, error)
	Counts() (*types.StoreCounts, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
