package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odisea",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "odisea",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odisea",
		Subsystem: "billing",
		Name:      "reconcile_outcomes_total",
		Help:      "Entitlement reconciliation outcomes by event type.",
	}, []string{"event_type", "outcome"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odisea",
		Subsystem: "billing",
		Name:      "checkout_sessions_total",
		Help:      "Checkout session creation attempts by subscription type and outcome.",
	}, []string{"subscription_type", "outcome"})

	TranslationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odisea",
		Subsystem: "translate",
		Name:      "requests_total",
		Help:      "Translation requests by outcome (translated, cached, passthrough, failed).",
	}, []string{"outcome"})

	SweepRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odisea",
		Subsystem: "billing",
		Name:      "sweep_repairs_total",
		Help:      "Rows repaired by the entitlement consistency sweep.",
	}, []string{"kind"})
)
