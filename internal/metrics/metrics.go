package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	Panics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_handler_panics_total",
			Help: "Handler panics recovered by middleware",
		},
	)

	// Processor callbacks
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_callbacks_total",
			Help: "Inbound processor callbacks by kind and outcome",
		},
		[]string{"kind", "outcome"}, // payment|logistics ; applied|duplicate|not_found|bad_signature|error
	)
	SignatureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_signature_failures_total",
			Help: "Callbacks rejected because CheckMacValue did not match",
		},
		[]string{"kind"},
	)

	// State machines
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Persisted status transitions",
		},
		[]string{"entity", "status"}, // transaction|shipment
	)

	// Settlement side effects
	SideEffects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_side_effects_total",
			Help: "Background settlement steps by step and result",
		},
		[]string{"step", "result"},
	)

	// Outbound calls
	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_failures_total",
			Help: "Failed outbound calls to the processor",
		},
		[]string{"op"},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
	WorkerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_dropped_total",
			Help: "Jobs rejected because the queue was full or stopped",
		},
	)
)

// Handler serves /metrics.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		Panics,
		CallbacksTotal,
		SignatureFailures,
		Transitions,
		SideEffects,
		UpstreamFailures,
		WorkerQueueDepth,
		WorkerDropped,
	)
}
