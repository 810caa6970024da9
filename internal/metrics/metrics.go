// Package metrics holds the Prometheus collectors of the payment service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds application metrics.
type Metrics struct {
	registry *prometheus.Registry

	WebhooksReceived   *prometheus.CounterVec
	WebhookOutcomes    *prometheus.CounterVec
	WebhookQueueDrops  prometheus.Counter
	TokenRefreshes     *prometheus.CounterVec
	IntentsCreated     *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	ReversalsUnhandled prometheus.Counter
	LinksIssued        prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mp_webhooks_received_total",
			Help: "Inbound Mercado Pago notifications by signature result.",
		}, []string{"signature"}),
		WebhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mp_webhook_outcomes_total",
			Help: "Processed notifications by final event status.",
		}, []string{"status"}),
		WebhookQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mp_webhook_queue_full_total",
			Help: "Notifications left for the retry sweep because the worker queue was full.",
		}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mp_token_refreshes_total",
			Help: "OAuth refresh attempts by result.",
		}, []string{"result"}),
		IntentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mp_intents_total",
			Help: "Checkout preference creation attempts by result.",
		}, []string{"result"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_compensations_total",
			Help: "Compensating appointment deletes by result.",
		}, []string{"result"}),
		ReversalsUnhandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mp_reversal_unhandled_total",
			Help: "Refunds or chargebacks on confirmed appointments that need manual follow-up.",
		}),
		LinksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_links_issued_total",
			Help: "Booking links issued.",
		}),
	}

	reg.MustRegister(
		m.WebhooksReceived,
		m.WebhookOutcomes,
		m.WebhookQueueDrops,
		m.TokenRefreshes,
		m.IntentsCreated,
		m.Compensations,
		m.ReversalsUnhandled,
		m.LinksIssued,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
