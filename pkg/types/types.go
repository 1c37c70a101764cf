package types

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusCrawling    TaskStatus = "crawling"
	TaskStatusDownloaded  TaskStatus = "downloaded"
	TaskStatusQueuedParse TaskStatus = "queued_parse"
	TaskStatusParsing     TaskStatus = "parsing"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusPaused      TaskStatus = "paused"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal rows never change
// status again except through the explicit restart operations.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Active reports whether the status holds an implicit worker lease and is
// therefore subject to a per-state reclaim deadline.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusQueued, TaskStatusCrawling, TaskStatusQueuedParse, TaskStatusParsing:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusCrawling, TaskStatusDownloaded,
		TaskStatusQueuedParse, TaskStatusParsing, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusPaused, TaskStatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the lease-bearing states, in pipeline order.
var ActiveStatuses = []TaskStatus{
	TaskStatusQueued,
	TaskStatusCrawling,
	TaskStatusQueuedParse,
	TaskStatusParsing,
}

// AllTaskStatuses lists every lifecycle state, in pipeline order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusQueued,
	TaskStatusCrawling,
	TaskStatusDownloaded,
	TaskStatusQueuedParse,
	TaskStatusParsing,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
	TaskStatusPaused,
}

// Task priority bounds. Lower value means more urgent.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10

	// PriorityFastLane is the inclusive cutoff at or below which a CrawlJob
	// is routed to the priority queue instead of the crawl queue.
	PriorityFastLane = 2
)

// ValidPriority reports whether p is inside the accepted 1..10 range.
func ValidPriority(p int) bool {
	return p >= PriorityHighest && p <= PriorityLowest
}

// Host represents a crawled website and its per-site settings
type Host struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"` // unique
	BaseURL         string        `json:"base_url"`
	ParserTag       string        `json:"parser_tag"`
	MinSpacing      time.Duration `json:"min_spacing,omitempty"` // minimum delay between requests, enforced by workers
	MaxInFlight     int           `json:"max_in_flight,omitempty"`
	DefaultInterval time.Duration `json:"default_interval,omitempty"` // recurrence interval when a task doesn't set one
	Active          bool          `json:"active"`
	RobotsPolicy    string        `json:"robots_policy,omitempty"` // cached robots.txt body, fetched externally
	UserAgent       string        `json:"user_agent,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CrawlTask represents one URL moving through the download → parse pipeline
type CrawlTask struct {
	ID          string     `json:"id"`
	HostID      string     `json:"host_id"`
	URL         string     `json:"url"`         // normalized form
	Fingerprint string     `json:"fingerprint"` // sha-256 hex of the normalized URL
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"` // 1 (highest) .. 10 (lowest)

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LastTransitionAt tracks the most recent status change; lease reclaim
	// measures state deadlines from it.
	LastTransitionAt time.Time `json:"last_transition_at"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error,omitempty"`

	// Recurrence
	IsRecurring bool          `json:"is_recurring"`
	Interval    time.Duration `json:"interval,omitempty"`
	NextRunAt   *time.Time    `json:"next_run_at,omitempty"` // set only while completed and recurring
	RecurCount  int           `json:"recur_count"`

	// Outcome of the download stage
	BlobRef   string `json:"blob_ref,omitempty"`
	HTTPCode  int    `json:"http_code,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	ProxyID   string `json:"proxy_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// ProxyProtocol defines the scheme a proxy speaks
type ProxyProtocol string

const (
	ProxyProtocolHTTP   ProxyProtocol = "http"
	ProxyProtocolHTTPS  ProxyProtocol = "https"
	ProxyProtocolSOCKS5 ProxyProtocol = "socks5"
)

// Valid reports whether p is a supported proxy protocol.
func (p ProxyProtocol) Valid() bool {
	return p == ProxyProtocolHTTP || p == ProxyProtocolHTTPS || p == ProxyProtocolSOCKS5
}

// Proxy represents an outbound identity resource
type Proxy struct {
	ID       string        `json:"id"`
	Address  string        `json:"address"`
	Port     int           `json:"port"`
	Protocol ProxyProtocol `json:"protocol"`
	Username string        `json:"username,omitempty"`
	// Password is AES-256-GCM encrypted at rest when the store is opened with
	// an encryption key, and redacted in API responses.
	Password string `json:"password,omitempty"`

	Active bool `json:"active"`

	SuccessCount  int64      `json:"success_count"`
	FailureCount  int        `json:"failure_count"` // consecutive, zeroed on success
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	AvgLatencyMS  float64    `json:"avg_latency_ms"`
	DisabledAt    *time.Time `json:"disabled_at,omitempty"`

	Geo        string `json:"geo,omitempty"`
	PerHourCap int    `json:"per_hour_cap,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Endpoint returns the proxy's dialable address ("host:port").
func (p *Proxy) Endpoint() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// URL returns the full proxy URL including credentials when present.
func (p *Proxy) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Address, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Address, p.Port)
}

// HostProxyBinding is the many-to-many junction between hosts and proxies.
// Its health counters are independent from the proxy's global counters: the
// same proxy may be healthy against one host and disabled against another.
type HostProxyBinding struct {
	ID       string `json:"id"`
	HostID   string `json:"host_id"`
	ProxyID  string `json:"proxy_id"`
	Active   bool   `json:"active"`
	Priority int    `json:"priority"`

	LastUsedAt   *time.Time `json:"last_used_at,omitempty"` // nil = never used, sorts oldest
	SuccessCount int64      `json:"success_count"`
	FailureCount int        `json:"failure_count"` // consecutive, zeroed on success
	AvgLatencyMS float64    `json:"avg_latency_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CrawlJob is the broker payload for the download stage. It carries the
// minimum the worker needs without re-querying the store.
type CrawlJob struct {
	TaskID      string `json:"task_id"`
	URL         string `json:"url"`
	HostID      string `json:"host_id"`
	Priority    int    `json:"priority"`
	ProxyHandle string `json:"proxy_handle,omitempty"`
	Attempt     int    `json:"attempt"`
}

// ParseJob is the broker payload for the parse stage.
type ParseJob struct {
	TaskID    string `json:"task_id"`
	HostID    string `json:"host_id"`
	BlobRef   string `json:"blob_ref"`
	ParserTag string `json:"parser_tag"`
	Attempt   int    `json:"attempt"`
}

// AttemptKind discriminates worker write-back outcomes
type AttemptKind string

const (
	AttemptDownloadSuccess  AttemptKind = "download_success"
	AttemptParseSuccess     AttemptKind = "parse_success"
	AttemptTransientFailure AttemptKind = "transient_failure"
	AttemptTerminalFailure  AttemptKind = "terminal_failure"
)

// Attempt is the payload of a worker write-back (record_attempt).
type Attempt struct {
	Kind      AttemptKind `json:"kind"`
	BlobRef   string      `json:"blob_ref,omitempty"`
	HTTPCode  int         `json:"http_code,omitempty"`
	LatencyMS int64       `json:"latency_ms,omitempty"`
	ProxyID   string      `json:"proxy_id,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// TaskOptions carries optional fields for task submission
type TaskOptions struct {
	Priority    int           `json:"priority,omitempty"` // 0 = default (5)
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	MaxRetries  *int          `json:"max_retries,omitempty"`
	IsRecurring bool          `json:"is_recurring,omitempty"`
	Interval    time.Duration `json:"interval,omitempty"` // 0 = host default
	CreatedBy   string        `json:"created_by,omitempty"`
}

// RestartOptions carries optional overrides for a full restart
type RestartOptions struct {
	ResetRetries bool       `json:"reset_retries,omitempty"`
	Priority     int        `json:"priority,omitempty"` // 0 = keep current
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

// BulkSubmitResult reports per-item outcomes of a bulk submission.
// Bulk operations never roll back; partial success is the contract.
type BulkSubmitResult struct {
	Inserted   []string        `json:"inserted"`
	Duplicates []BulkDuplicate `json:"duplicates,omitempty"`
	Invalid    []BulkInvalid   `json:"invalid,omitempty"`
}

// BulkDuplicate identifies a rejected URL and the live row that owns its fingerprint
type BulkDuplicate struct {
	URL        string `json:"url"`
	ExistingID string `json:"existing_id"`
}

// BulkInvalid identifies a URL rejected by validation
type BulkInvalid struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// BulkRestartResult reports per-item outcomes of a bulk restart
type BulkRestartResult struct {
	Restarted []string       `json:"restarted"`
	Failed    []BulkOpError  `json:"failed,omitempty"`
}

// BulkOpError pairs a task id with the error that excluded it from a bulk operation
type BulkOpError struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// TaskSortKey selects the ordering of a task query. The set is a whitelist;
// anything else is rejected as validation error.
type TaskSortKey string

const (
	TaskSortCreatedAt   TaskSortKey = "created_at"
	TaskSortScheduledAt TaskSortKey = "scheduled_at"
	TaskSortPriority    TaskSortKey = "priority"
	TaskSortStatus      TaskSortKey = "status"
)

// Valid reports whether k is an allowed sort key.
func (k TaskSortKey) Valid() bool {
	switch k {
	case TaskSortCreatedAt, TaskSortScheduledAt, TaskSortPriority, TaskSortStatus:
		return true
	}
	return false
}

// TaskFilter narrows task queries. Zero values mean "no constraint".
type TaskFilter struct {
	Statuses      []TaskStatus
	HostID        string
	PriorityMin   int
	PriorityMax   int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	IsRecurring   *bool

	// FailedAfter matches failed tasks whose completion timestamp is at or
	// after the given instant (inclusive).
	FailedAfter *time.Time
}

// TaskQuery combines filter, sort and cursor pagination
type TaskQuery struct {
	Filter TaskFilter
	Sort   TaskSortKey
	Desc   bool
	Limit  int
	Cursor string // opaque (sort_key, id) cursor from a previous page
}

// TaskPage is one page of query results
type TaskPage struct {
	Tasks      []*CrawlTask `json:"tasks"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// ProxyOutcome reports how a leased proxy performed
type ProxyOutcome struct {
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ProxyLease is the handle returned by an allocator acquire. The binding id
// doubles as the release handle and as CrawlJob.ProxyHandle.
type ProxyLease struct {
	BindingID string `json:"binding_id"`
	Proxy     *Proxy `json:"proxy"`
}

// BindingStats is the per-binding health summary returned by the allocator
type BindingStats struct {
	BindingID    string     `json:"binding_id"`
	ProxyID      string     `json:"proxy_id"`
	Endpoint     string     `json:"endpoint"`
	Active       bool       `json:"active"`
	ProxyActive  bool       `json:"proxy_active"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	AvgLatencyMS float64    `json:"avg_latency_ms"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// ProxyProbe is the result of a one-shot reachability check against a
// proxy endpoint. Probing never touches health counters.
type ProxyProbe struct {
	ProxyID   string    `json:"proxy_id"`
	Endpoint  string    `json:"endpoint"`
	Reachable bool      `json:"reachable"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// StoreCounts is a snapshot of entity totals used by the metrics sampler
// and the stats endpoint
type StoreCounts struct {
	TasksByStatus map[TaskStatus]int `json:"tasks_by_status"`
	Hosts         int                `json:"hosts"`
	Proxies       int                `json:"proxies"`
	Bindings      int                `json:"bindings"`
}
