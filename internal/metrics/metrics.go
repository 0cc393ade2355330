package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a Manta component.
type Metrics struct {
	// Session lifecycle metrics (PP)
	SessionsCreatedTotal  *prometheus.CounterVec
	SessionsActive        prometheus.Gauge
	AcksPublishedTotal    *prometheus.CounterVec
	DispatchErrorsTotal   *prometheus.CounterVec
	HandlerDuration       *prometheus.HistogramVec
	PaymentsDroppedTotal  *prometheus.CounterVec

	// Broker connection metrics (shared by PP/POS/Wallet)
	BrokerReconnectsTotal prometheus.Counter
	BrokerPublishTotal    *prometheus.CounterVec

	// Client-side awaiting metrics (POS/Wallet)
	AwaitTimeoutsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics for a Manta component.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		SessionsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manta_sessions_created_total",
				Help: "Total number of sessions created by the payment processor",
			},
			[]string{"mode"}, // "manta" or "legacy"
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "manta_sessions_active",
				Help: "Number of live (non-terminal) sessions held by the transaction store",
			},
		),
		AcksPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manta_acks_published_total",
				Help: "Total number of ack messages published, by status",
			},
			[]string{"status"},
		),
		DispatchErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manta_dispatch_errors_total",
				Help: "Total number of dispatch handler errors, by topic pattern",
			},
			[]string{"topic"},
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "manta_handler_duration_seconds",
				Help:    "Time taken to process a dispatched message",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"topic"},
		),
		PaymentsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manta_payments_dropped_total",
				Help: "Total number of payment messages silently dropped (unknown session or unsupported crypto)",
			},
			[]string{"reason"},
		),
		BrokerReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "manta_broker_reconnects_total",
				Help: "Total number of broker reconnects observed",
			},
		),
		BrokerPublishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manta_broker_publish_total",
				Help: "Total number of broker publishes, by outcome",
			},
			[]string{"outcome"}, // "ok" or "error"
		),
		AwaitTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manta_await_timeouts_total",
				Help: "Total number of POS/Wallet suspension points that timed out",
			},
			[]string{"operation"}, // "ack", "payment_request", "certificate"
		),
	}
}

// ObserveHandlerDuration records how long a dispatch handler took to run.
func (m *Metrics) ObserveHandlerDuration(topic string, duration time.Duration) {
	if m == nil || m.HandlerDuration == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(topic).Observe(duration.Seconds())
}
