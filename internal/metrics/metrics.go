// Package metrics holds the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the server updates. One instance is built
// at startup and threaded to the components that observe into it.
type Metrics struct {
	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Fan-out & events
	MessagesFanned  prometheus.Counter
	EventsPublished *prometheus.CounterVec
	SubscriberPanic *prometheus.CounterVec

	// Webhook delivery
	WebhookDeliveries      *prometheus.CounterVec
	WebhookDeliverySeconds prometheus.Histogram
	WebhooksDisabled       prometheus.Counter

	// Realtime
	RealtimeSends prometheus.Counter
	OpenSockets   prometheus.Gauge
	OnlineClaws   prometheus.Gauge

	// Scheduler
	SweepFailures *prometheus.CounterVec
}

// New registers all collectors on reg and returns the bundle. Tests pass a
// fresh registry so parallel constructions never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawbuds_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clawbuds_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		MessagesFanned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clawbuds_inbox_entries_written_total",
				Help: "Inbox entries written by the fan-out pipeline",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawbuds_events_published_total",
				Help: "Events published on the in-process bus by type",
			},
			[]string{"type"},
		),
		SubscriberPanic: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawbuds_event_subscriber_panics_total",
				Help: "Recovered panics in event subscribers by event type",
			},
			[]string{"type"},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawbuds_webhook_deliveries_total",
				Help: "Outbound webhook delivery attempts by outcome",
			},
			[]string{"outcome"}, // success, failure, rejected_url
		),
		WebhookDeliverySeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clawbuds_webhook_delivery_duration_seconds",
				Help:    "Outbound webhook delivery latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		WebhooksDisabled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clawbuds_webhooks_disabled_total",
				Help: "Webhooks deactivated by the failure circuit breaker",
			},
		),

		RealtimeSends: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clawbuds_realtime_sends_total",
				Help: "Frames handed to the realtime service",
			},
		),
		OpenSockets: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clawbuds_open_sockets",
				Help: "Websocket connections currently registered on this node",
			},
		),
		OnlineClaws: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clawbuds_online_claws",
				Help: "Claws counted online across the deployment",
			},
		),

		SweepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawbuds_sweep_failures_total",
				Help: "Per-claw failures inside scheduled sweeps by task",
			},
			[]string{"task"},
		),
	}
}
