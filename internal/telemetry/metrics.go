package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PagesFetchedTotal counts API pages fetched, by stream.
var PagesFetchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vulnsync",
		Subsystem: "client",
		Name:      "pages_fetched_total",
		Help:      "Total number of API pages fetched, by stream.",
	},
	[]string{"stream"},
)

// RequestRetriesTotal counts retries issued by the API client, by reason.
var RequestRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vulnsync",
		Subsystem: "client",
		Name:      "request_retries_total",
		Help:      "Total number of request retries, by reason (401, 429, 5xx, network).",
	},
	[]string{"reason"},
)

// PageSizeDegradations counts page-size halvings triggered by persistent 5xx responses.
var PageSizeDegradations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vulnsync",
		Subsystem: "client",
		Name:      "page_size_degradations_total",
		Help:      "Total number of page-size degradation events, by endpoint.",
	},
	[]string{"endpoint"},
)

// RateLimiterWaitSeconds tracks time spent waiting for a rate-limit token, by class.
var RateLimiterWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "vulnsync",
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire a rate-limit token, by class.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"class"},
)

// RecordsClassifiedTotal counts upserted records by stream and classification outcome.
var RecordsClassifiedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vulnsync",
		Subsystem: "storage",
		Name:      "records_classified_total",
		Help:      "Total number of records classified during upsert, by stream and outcome.",
	},
	[]string{"stream", "outcome"}, // outcome: new, updated, remediated
)

// FlushDurationSeconds tracks the duration of a storage batch flush, by stream.
var FlushDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "vulnsync",
		Subsystem: "storage",
		Name:      "flush_duration_seconds",
		Help:      "Duration of a storage batch flush, by stream.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"stream"},
)

// SyncSessionsTotal counts completed sync sessions, by outcome.
var SyncSessionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vulnsync",
		Subsystem: "sync",
		Name:      "sessions_total",
		Help:      "Total number of sync sessions, by outcome (complete, error, stopped).",
	},
	[]string{"outcome"},
)

// All returns all vulnsync-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PagesFetchedTotal,
		RequestRetriesTotal,
		PageSizeDegradations,
		RateLimiterWaitSeconds,
		RecordsClassifiedTotal,
		FlushDurationSeconds,
		SyncSessionsTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors and
// all vulnsync metrics registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
