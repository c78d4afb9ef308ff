// Package metrics provides Prometheus instrumentation for the risk monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradeEventsTotal counts trade events applied to the ledger.
	TradeEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_trade_events_total",
		Help: "Total number of trade events applied to the position ledger",
	})

	// LedgerUsers tracks the number of users currently in the ledger.
	LedgerUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_ledger_users",
		Help: "Number of users with a live ledger entry",
	})

	// SnapshotLatency observes exposure snapshot computation latency.
	SnapshotLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_snapshot_latency_seconds",
		Help:    "Exposure snapshot computation latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// AlertsCreated counts created alerts by category and severity.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_created_total",
		Help: "Total number of risk alerts created",
	}, []string{"category", "severity"})

	// AlertsSuppressed counts duplicate alerts suppressed by the dedup key.
	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alerts_suppressed_total",
		Help: "Duplicate alerts suppressed while an open alert existed",
	})

	// Escalations counts alert escalations.
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_escalations_total",
		Help: "Total number of alert escalations",
	})

	// NotificationsSent counts successful notification deliveries by channel.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_notifications_sent_total",
		Help: "Successful notification deliveries",
	}, []string{"channel"})

	// NotificationsFailed counts failed notification deliveries by channel.
	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_notifications_failed_total",
		Help: "Failed notification deliveries",
	}, []string{"channel"})

	// NotificationRetries counts retry attempts.
	NotificationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_notification_retries_total",
		Help: "Notification delivery retry attempts",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
)
