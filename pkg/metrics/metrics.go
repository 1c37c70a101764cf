package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store entity metrics
	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scuttle_tasks_by_status",
			Help: "Number of tasks in each lifecycle state",
		},
		[]string{"status"},
	)

	HostsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scuttle_hosts_total",
			Help: "Total number of registered hosts",
		},
	)

	ProxiesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scuttle_proxies_total",
			Help: "Total number of registered proxies",
		},
	)

	BindingsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scuttle_bindings_total",
			Help: "Total number of host-proxy bindings",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scuttle_queue_depth",
			Help: "Messages currently in each broker queue",
		},
		[]string{"queue"},
	)

	// Dispatcher metrics
	TasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scuttle_tasks_dispatched_total",
			Help: "Total number of tasks published to a work queue",
		},
		[]string{"queue"},
	)

	DispatchRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scuttle_dispatch_round_seconds",
			Help:    "Duration of one dispatcher round in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scuttle_dispatch_batch_size",
			Help:    "Number of due tasks fetched per dispatcher round",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	TasksReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_tasks_reclaimed_total",
			Help: "Total number of tasks recovered from expired leases",
		},
	)

	RecurrencesMaterialized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_recurrences_materialized_total",
			Help: "Total number of recurring task rows materialized",
		},
	)

	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_publish_failures_total",
			Help: "Total number of broker publishes that failed after claiming a task",
		},
	)

	// Control plane metrics
	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_tasks_submitted_total",
			Help: "Total number of tasks accepted for crawling",
		},
	)

	DuplicateSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_duplicate_submissions_total",
			Help: "Total number of submissions rejected by the fingerprint index",
		},
	)

	AttemptsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scuttle_attempts_recorded_total",
			Help: "Total number of worker attempt write-backs by kind",
		},
		[]string{"kind"},
	)

	// Proxy metrics
	ProxyAcquireMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_proxy_acquire_misses_total",
			Help: "Total number of acquires that found no eligible proxy",
		},
	)

	ProxiesDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_proxies_disabled_total",
			Help: "Total number of proxies auto-disabled by the failure threshold",
		},
	)

	ProxiesReenabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_proxies_reenabled_total",
			Help: "Total number of proxies brought back after the re-enable grace",
		},
	)

	BindingsDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scuttle_bindings_disabled_total",
			Help: "Total number of bindings auto-disabled by the failure threshold",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scuttle_api_requests_total",
			Help: "API requests by HTTP method and response status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scuttle_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(TasksByStatus)
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(ProxiesTotal)
	prometheus.MustRegister(BindingsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksDispatched)
	prometheus.MustRegister(DispatchRoundDuration)
	prometheus.MustRegister(DispatchBatchSize)
	prometheus.MustRegister(TasksReclaimed)
	prometheus.MustRegister(RecurrencesMaterialized)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(DuplicateSubmissions)
	prometheus.MustRegister(AttemptsRecorded)
	prometheus.MustRegister(ProxyAcquireMisses)
	prometheus.MustRegister(ProxiesDisabled)
	prometheus.MustRegister(ProxiesReenabled)
	prometheus.MustRegister(BindingsDisabled)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ComponentUp)
}

// Handler serves the text exposition format for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
