package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_readings_ingested_total",
			Help: "Total number of sensor readings accepted",
		},
		[]string{"classification"}, // classification: predicted, transmitted, first
	)

	ReadingsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_readings_rejected_total",
			Help: "Total number of sensor readings rejected",
		},
		[]string{"reason"}, // reason: unknown_device, invalid_payload, store_error
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitoring_ingest_duration_seconds",
			Help:    "Time spent classifying and persisting one reading",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_created_total",
			Help: "Total number of alerts created by the evaluator",
		},
		[]string{"alert_type", "severity"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_suppressed_total",
			Help: "Alerts skipped because an unresolved one already exists",
		},
		[]string{"alert_type"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_notifications_total",
			Help: "Total notification dispatch attempts",
		},
		[]string{"status"}, // status: sent, failed
	)

	// Liveness metrics
	DevicesMarkedOffline = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitoring_devices_marked_offline_total",
			Help: "Devices the sweeper marked offline",
		},
	)
)
