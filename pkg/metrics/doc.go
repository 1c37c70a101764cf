/*
Package metrics provides Prometheus metrics collection and exposition for Scuttle.

Every signal Scuttle exports is declared here: pipeline counters, queue
depth gauges, proxy pool health, API latency and the component health
registry. Other packages import the collectors and increment them at the
event site; nothing else in the tree touches the Prometheus client
directly.

# Architecture

Every component instruments itself through package-level collectors
registered at init:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - default registry, filled at init         │          │
	│  │  - Go runtime metrics come for free         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Pipeline: tasks by status, dispatch rate   │          │
	│  │  Queues: depth per broker stream            │          │
	│  │  Proxies: disables, re-enables, misses      │          │
	│  │  Control plane: submissions, duplicates     │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             Collector                       │          │
	│  │  - Samples store counts every 15s           │          │
	│  │  - Samples queue depths via the broker      │          │
	│  │  - Gauges: instant state snapshots          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          /metrics endpoint                  │          │
	│  │  - promhttp text exposition, mounted        │          │
	│  │    unauthenticated by pkg/api               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Collectors are package-level vars, MustRegister'd in init
  - The default registry also carries Go runtime and process metrics
  - Prometheus collectors are safe for concurrent use, so call sites
    increment without coordination

Collector:
  - Polls Store.Counts() and broker queue depths on a 15 second ticker
  - Sets gauges from snapshots; counters are incremented inline by the
    dispatcher, manager and API as events happen
  - Walks the full status list so emptied states report zero

Timer Helper:
  - NewTimer captures a start time; ObserveDuration folds the elapsed
    time into a histogram, ObserveDurationVec into a labeled one

Health Registry:
  - Caches the last observed state per dependency (store, broker)
  - Fed by the API's /readyz checks and the background health monitor
  - Exports scuttle_component_up and serves Snapshot() for liveness bodies

# Metrics Catalog

Pipeline Metrics:

scuttle_tasks_by_status{status}:
  - Type: Gauge
  - Description: Tasks in each lifecycle state
  - Example: scuttle_tasks_by_status{status="pending"} 412

scuttle_tasks_dispatched_total{queue}:
  - Type: Counter
  - Description: Tasks published to a work queue
  - Example: scuttle_tasks_dispatched_total{queue="scuttle:crawl"} 10233

scuttle_dispatch_round_seconds:
  - Type: Histogram
  - Description: Duration of one dispatcher round

scuttle_dispatch_batch_size:
  - Type: Histogram
  - Description: Due tasks fetched per round; saturation at
    dispatcher.batch_size means the interval or batch is too small

scuttle_tasks_reclaimed_total:
  - Type: Counter
  - Description: Tasks recovered from expired leases

scuttle_recurrences_materialized_total:
  - Type: Counter
  - Description: Recurring rows materialized by the dispatcher

scuttle_publish_failures_total:
  - Type: Counter
  - Description: Broker publishes that failed after a task was claimed;
    each one is followed by a revert to pending

Queue Metrics:

scuttle_queue_depth{queue}:
  - Type: Gauge
  - Description: Messages waiting in the broker stream
  - Example: scuttle_queue_depth{queue="scuttle:parse"} 87

Control Plane Metrics:

scuttle_tasks_submitted_total:
  - Type: Counter
  - Description: Tasks accepted for crawling (single and bulk)

scuttle_duplicate_submissions_total:
  - Type: Counter
  - Description: Submissions rejected by the fingerprint index

scuttle_attempts_recorded_total{kind}:
  - Type: Counter
  - Description: Worker write-backs by kind (download_success,
    parse_success, transient_failure, terminal_failure)

Proxy Metrics:

scuttle_proxy_acquire_misses_total:
  - Type: Counter
  - Description: Acquires that found no eligible binding

scuttle_proxies_disabled_total:
  - Type: Counter
  - Description: Proxies auto-disabled by the global failure threshold

scuttle_proxies_reenabled_total:
  - Type: Counter
  - Description: Proxies brought back after the re-enable grace

scuttle_bindings_disabled_total:
  - Type: Counter
  - Description: Bindings auto-disabled by the per-binding threshold

Entity Totals:

scuttle_hosts_total, scuttle_proxies_total, scuttle_bindings_total:
  - Type: Gauge
  - Description: Registered entity counts, sampled by the collector

API Metrics:

scuttle_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by HTTP method and response status

scuttle_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request latency

Component Health:

scuttle_component_up{component}:
  - Type: Gauge
  - Description: 1 when the component passed its last health check

# Usage

Incrementing counters:

	metrics.TasksSubmitted.Inc()
	metrics.TasksDispatched.WithLabelValues("scuttle:crawl").Inc()
	metrics.AttemptsRecorded.WithLabelValues(string(outcome.Kind)).Inc()

Timing an operation:

	timer := metrics.NewTimer()
	dispatchRound()
	timer.ObserveDuration(metrics.DispatchRoundDuration)

Starting the collector:

	collector := metrics.NewCollector(store, broker, []string{
		cfg.Broker.CrawlQueue, cfg.Broker.ParseQueue, cfg.Broker.PriorityQueue,
	})
	collector.Start()
	defer collector.Stop()

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())

Recording component health:

	metrics.UpdateComponent("broker", false, "redis unreachable")
	snap := metrics.Snapshot() // cached view for liveness bodies

# Integration Points

This package integrates with:

  - pkg/dispatcher: Round duration, dispatched/reclaimed/recurrence counters
  - pkg/manager: Submission, duplicate, attempt and proxy counters
  - pkg/api: Request counters and latency, /metrics endpoint
  - pkg/storage: Counts() snapshot feeds the collector
  - pkg/broker: Depth() feeds the queue gauge

# Design Patterns

Label Cardinality:
  - Labels limited to small closed sets (status, queue, kind, method)
  - No task IDs, URLs or host names in labels
  - Keeps time series count bounded

Gauges From Snapshots:
  - Entity totals sampled by the collector, not maintained incrementally
  - One source of truth (the store), no drift from missed events

Counters At The Event Site:
  - Rates counted where the event is decided, not inferred from state

# Alerting Examples

Queue stuck:

	rate(scuttle_tasks_dispatched_total[5m]) == 0
	  and scuttle_tasks_by_status{status="pending"} > 0

Proxy pool draining:

	increase(scuttle_proxies_disabled_total[15m]) > 3

Reclaim churn (workers crashing or deadlines too tight):

	rate(scuttle_tasks_reclaimed_total[15m]) > 1

API latency:

	histogram_quantile(0.99,
	  rate(scuttle_api_request_duration_seconds_bucket[5m])) > 0.5

# See Also

  - pkg/dispatcher for the loop these metrics instrument
  - pkg/api for the /metrics endpoint wiring
  - Prometheus naming guidelines: https://prometheus.io/docs/practices/naming/
*/
package metrics
