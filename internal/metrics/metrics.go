// Package metrics defines the prometheus instruments for the engine.
// Everything lives in the fetcharr namespace and is registered through
// promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesDispatched counts accepted search dispatches per connector.
	SearchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "searches_dispatched_total",
			Help:      "Total search commands accepted by upstream",
		},
		[]string{"connector", "content_type", "search_type"},
	)

	// SearchFailures counts failed dispatches by category.
	SearchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "search_failures_total",
			Help:      "Total failed search dispatches by failure category",
		},
		[]string{"connector", "category"},
	)

	// ThrottleDenials counts tryConsume rejections by reason.
	ThrottleDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "throttle_denials_total",
			Help:      "Total dispatch attempts denied by the throttle enforcer",
		},
		[]string{"connector", "reason"},
	)

	// QueueDepth tracks live registries by connector and state.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fetcharr",
			Name:      "queue_depth",
			Help:      "Live search registries by state",
		},
		[]string{"connector", "state"},
	)

	// SyncDuration observes sweep durations.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fetcharr",
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync and discovery passes",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"connector", "mode"},
	)

	// JobDuration observes scheduled job runtimes.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fetcharr",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"job", "outcome"},
	)

	// JobSkipped counts firings skipped because the previous run was still
	// in flight.
	JobSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "job_skipped_total",
			Help:      "Scheduled firings skipped due to an overlapping execution",
		},
		[]string{"job"},
	)

	// NotificationSends counts channel deliveries by outcome.
	NotificationSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "notification_sends_total",
			Help:      "Notification delivery attempts by channel type and outcome",
		},
		[]string{"channel_type", "outcome"},
	)

	// CatalogCompletion tracks the monitored-content completion ratio.
	CatalogCompletion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fetcharr",
			Name:      "catalog_completion_ratio",
			Help:      "Share of monitored content with a file, per connector",
		},
		[]string{"connector"},
	)

	// ReconnectAttempts counts reconnect probes by outcome.
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "reconnect_attempts_total",
			Help:      "Connector reconnect probes by outcome",
		},
		[]string{"connector", "outcome"},
	)
)
