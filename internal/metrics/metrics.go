package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniport_ingress_events_total",
			Help: "Total number of events ingested, by source and lane",
		},
		[]string{"source", "lane"},
	)

	ValidationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omniport_ingress_validation_errors_total",
			Help: "Total number of rejected malformed ingress requests",
		},
	)

	DuplicatesCollapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omniport_ingress_duplicates_collapsed_total",
			Help: "Total number of ingestions collapsed onto an existing event by fingerprint",
		},
	)

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniport_dispatch_total",
			Help: "Total number of dispatch attempts, by destination and outcome",
		},
		[]string{"destination", "status"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omniport_dispatch_duration_seconds",
			Help:    "Duration of handler invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniport_dispatch_queue_depth",
			Help: "Current depth of the dispatch worker queue",
		},
	)

	// Circuit breaker metrics
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniport_circuit_transitions_total",
			Help: "Total circuit breaker state transitions, by destination and new state",
		},
		[]string{"destination", "state"},
	)

	CircuitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniport_circuit_rejections_total",
			Help: "Dispatches refused because a destination circuit was open",
		},
		[]string{"destination"},
	)

	// DLQ metrics
	DLQDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniport_dlq_depth",
			Help: "Number of pending dead-letter entries",
		},
	)

	DLQRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniport_dlq_retries_total",
			Help: "Total DLQ retry attempts, by outcome",
		},
		[]string{"status"},
	)

	DLQExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omniport_dlq_exhausted_total",
			Help: "Total DLQ entries that exceeded the retry budget",
		},
	)

	DLQEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omniport_dlq_evictions_total",
			Help: "Total pending DLQ entries evicted because the queue was over capacity",
		},
	)
)
