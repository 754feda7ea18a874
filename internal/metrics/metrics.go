// Package metrics registers the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_relay_webhooks_received_total",
			Help: "Total number of webhook requests by outcome",
		},
		[]string{"outcome"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_webhook_bytes_total",
			Help: "Total bytes of accepted webhook bodies",
		},
	)

	// Queue metrics
	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_jobs_enqueued_total",
			Help: "Total number of jobs pushed onto the ready queue",
		},
	)

	EnqueueFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_enqueue_failures_total",
			Help: "Total number of persisted events whose job could not be enqueued",
		},
	)

	JobsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_jobs_scheduled_total",
			Help: "Total number of jobs parked for delayed retry",
		},
	)

	JobsPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_jobs_promoted_total",
			Help: "Total number of delayed jobs moved back to the ready queue",
		},
	)

	MalformedJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_malformed_jobs_total",
			Help: "Total number of queue entries discarded because they could not be decoded",
		},
	)

	// Processing metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_relay_jobs_processed_total",
			Help: "Total number of jobs processed by result",
		},
		[]string{"result"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_relay_job_duration_seconds",
			Help:    "Duration of one job attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Delivery metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_relay_deliveries_total",
			Help: "Total number of destination deliveries by type and status",
		},
		[]string{"type", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_relay_delivery_duration_seconds",
			Help:    "Duration of destination deliveries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Retry metrics
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
	)

	PermanentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_relay_permanent_failures_total",
			Help: "Total number of events that exhausted their retry budget",
		},
	)

	DLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_relay_dlq_published_total",
			Help: "Total number of dead-letter publications by result",
		},
		[]string{"result"},
	)
)
