// Package instrument holds the Prometheus collectors shared by the
// telemetry, health and healing packages.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_events_captured_total",
		Help: "Telemetry events captured by kind",
	}, []string{"kind"})

	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_anomalies_total",
		Help: "Rolling metric anomalies detected by the aggregator",
	}, []string{"anomaly"})

	RollingMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "neuroloop_rolling_metric",
		Help: "Latest rolling metric value (0-100)",
	}, []string{"metric"})

	OverallHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "neuroloop_system_health_score",
		Help: "Mean health score across components",
	})

	ComponentHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "neuroloop_component_health_score",
		Help: "Health score per component",
	}, []string{"component"})

	HealingExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_healing_executions_total",
		Help: "Healing strategy executions by outcome",
	}, []string{"strategy", "outcome"})

	HealingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neuroloop_healing_duration_seconds",
		Help:    "Duration of healing strategy executions",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"strategy"})

	TaskSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_task_skipped_total",
		Help: "Periodic task runs skipped because the previous run was still in progress",
	}, []string{"task"})

	ArchivedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_archived_rows_total",
		Help: "Rows written to the analytics archive by table and outcome",
	}, []string{"table", "outcome"})

	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_kafka_messages_consumed_total",
		Help: "Inbound telemetry messages by outcome",
	}, []string{"outcome"})

	AlertsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroloop_alerts_published_total",
		Help: "Outbound alerts by type and outcome",
	}, []string{"type", "outcome"})
)
