// Package observability holds the prometheus metrics of the account watcher.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session failure reasons.
const (
	ReasonOpen     = "open"
	ReasonSnapshot = "snapshot"
	ReasonStream   = "stream"
)

// Delivery results.
const (
	DeliveryOK     = "ok"
	DeliveryFailed = "failed"
)

// Metrics holds all prometheus metrics of the watcher.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionFailures *prometheus.CounterVec

	MessagesReceived     *prometheus.CounterVec
	ClassificationErrors prometheus.Counter

	Fills        prometheus.Counter
	FillsDropped prometheus.Counter
	Deliveries   *prometheus.CounterVec

	WalletBalance  prometheus.Gauge
	PositionAmount prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "notipi_sessions_started_total",
			Help: "Account sessions opened",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notipi_session_failures_total",
			Help: "Account sessions torn down by an error",
		}, []string{"reason"}),

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notipi_stream_messages_total",
			Help: "User data stream messages by classified kind",
		}, []string{"kind"}),
		ClassificationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "notipi_classification_errors_total",
			Help: "User data stream messages skipped as malformed",
		}),

		Fills: factory.NewCounter(prometheus.CounterOpts{
			Name: "notipi_fills_total",
			Help: "Filled orders of the watched symbol",
		}),
		FillsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notipi_fill_stream_dropped_total",
			Help: "Fills not delivered to a slow status stream subscriber",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notipi_deliveries_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),

		WalletBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notipi_wallet_balance",
			Help: "Current wallet balance of the watched asset",
		}),
		PositionAmount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notipi_position_amount",
			Help: "Current position amount of the watched symbol",
		}),
	}
}
