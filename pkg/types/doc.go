/*
Package types defines the core data structures used throughout Scuttle.

Hosts, crawl tasks, proxies and host-proxy bindings all live here, along
with the queue payloads and query primitives built from them. Every other
package depends on these definitions, and the package itself imports
nothing beyond the standard library, so it sits at the bottom of the
dependency graph.

# Architecture

The types package is the foundation of Scuttle's data model. It defines:

  - Host registry (crawled sites and their per-site settings)
  - Crawl task lifecycle (download → parse pipeline state)
  - Outbound identity (proxies and per-host bindings)
  - Queue payloads (CrawlJob, ParseJob)
  - Worker write-back outcomes (Attempt)
  - Query primitives (filter, sort, cursor pagination)

Rows are plain structs with JSON tags and cross the storage layer, the
HTTP API and the queue payloads unchanged. Optional facts are pointers,
enums are typed string constants with Valid predicates, and lifecycle
questions (Terminal, Active) are methods on the status itself.

# Core Types

Host Registry:
  - Host: A crawled website with spacing, parser and recurrence settings

Task Lifecycle:
  - CrawlTask: Single URL moving through the pipeline
  - TaskStatus: Pending, queued, crawling, downloaded, queued_parse,
    parsing, completed, failed, paused, cancelled
  - Attempt: Worker write-back payload (success or failure detail)

Outbound Identity:
  - Proxy: An egress endpoint with global health counters
  - HostProxyBinding: Junction row with independent per-host counters
  - ProxyLease: Allocator handle (binding id + decrypted proxy)

Queue Payloads:
  - CrawlJob: Download-stage message (task id, URL, proxy handle)
  - ParseJob: Parse-stage message (task id, blob ref, parser tag)

Queries:
  - TaskFilter / TaskQuery / TaskPage: Filtered, sorted, cursor-paginated
    task listings

# State Machine

Crawl tasks follow a state machine:

	pending → queued → crawling → downloaded → queued_parse → parsing → completed
	             ↓         ↓                        ↓            ↓
	          failed    failed                   failed       failed

Valid state transitions:
  - pending → queued (dispatcher publishes a CrawlJob)
  - queued → crawling (worker claims the job)
  - crawling → downloaded (worker reports download success)
  - downloaded → queued_parse (dispatcher publishes a ParseJob)
  - queued_parse → parsing (worker claims the job)
  - parsing → completed (worker reports parse success)
  - any active → pending (transient failure with retries left, or reclaim)
  - any active → failed (terminal failure or retry exhaustion)
  - any non-terminal → cancelled / paused (admin operations)
  - completed/failed/cancelled → pending (explicit restart)
  - completed/failed/cancelled → downloaded (restart parse stage only)

Statuses queued, crawling, queued_parse and parsing carry an implicit
worker lease; rows stuck in them past a per-state deadline are reclaimed.

# Design Patterns

Enumeration Pattern:

	Enums are typed string constants, so stored rows and API payloads
	read naturally and the compiler still catches mixed-up kinds:
	  type TaskStatus string
	  const (
	      TaskStatusPending TaskStatus = "pending"
	      TaskStatusQueued  TaskStatus = "queued"
	  )

Optional Fields:

	Optional timestamps use pointers:
	  - *time.Time StartedAt: nil = never dispatched
	  - *time.Time LastUsedAt: nil = never used (sorts oldest in LRU)
	  - *time.Time NextRunAt: nil = no recurrence scheduled

Health Counter Pattern:

	FailureCount is consecutive and zeroed on success; SuccessCount is
	cumulative. The pair exists both globally on Proxy and per-host on
	HostProxyBinding, so one bad host cannot poison a proxy everywhere.

# Integration Points

This package integrates with:

  - pkg/storage: Persists all types to BoltDB
  - pkg/api: Serves them over the HTTP control plane
  - pkg/manager: Orchestrates task lifecycle operations
  - pkg/dispatcher: Moves due tasks onto the queues
  - pkg/proxy: Allocates proxies using binding health
  - pkg/broker: Serializes CrawlJob/ParseJob onto Redis Streams

# Validation

Key validation rules:

Hosts:
  - Name must be unique
  - BaseURL must parse as an absolute http(s) URL

Tasks:
  - URL must normalize to an absolute http(s) URL
  - Priority must be within 1..10 (1 = most urgent)
  - Fingerprint is the sha-256 of the normalized URL and is unique among
    live (non-terminal, non-cancelled) rows

Proxies:
  - Protocol must be http, https or socks5
  - Address and port must be set

# Thread Safety

Values here are passive data: concurrent reads are fine, concurrent
mutation is not. Synchronization belongs to pkg/storage, whose serialized
Update transactions and compare-and-swap transitions are the concurrency
primitives for persisted state.

# See Also

  - pkg/storage for how these rows persist
  - pkg/manager for the operations that mutate them
  - pkg/dispatcher for queue feeding
  - pkg/proxy for allocation policy
*/
package types
