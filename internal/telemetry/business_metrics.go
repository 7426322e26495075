// Package telemetry exposes Prometheus metrics for the settlement funnel.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "njord"

// BusinessMetrics tracks the checkout and settlement funnel.
type BusinessMetrics struct {
	// CheckoutsStarted counts checkout sessions opened, by order kind.
	CheckoutsStarted *prometheus.CounterVec

	// PaymentsConfirmed counts confirmation attempts by outcome
	// (succeeded, failed, requires_action).
	PaymentsConfirmed *prometheus.CounterVec

	// Settlements counts ledger settlements applied, by order kind and
	// delivery path.
	Settlements *prometheus.CounterVec

	// DuplicateSettlements counts attempts that found an existing
	// record, by delivery path. A healthy system produces these
	// constantly: both paths fire for every payment.
	DuplicateSettlements *prometheus.CounterVec

	// SettlementDegraded counts payments that completed at the
	// processor while the ledger write failed on one path.
	SettlementDegraded *prometheus.CounterVec

	// SettlementConflicts counts settlement attempts rejected for a
	// snapshot mismatch. Any increase needs investigation.
	SettlementConflicts prometheus.Counter

	// CreditsGranted totals credits applied to balances.
	CreditsGranted prometheus.Counter

	// WebhookEvents counts processor notifications by event type and
	// outcome.
	WebhookEvents *prometheus.CounterVec

	// WebhookDuration observes webhook handling latency.
	WebhookDuration prometheus.Histogram

	// ActiveSessions gauges open checkout sessions.
	ActiveSessions prometheus.Gauge
}

// NewBusinessMetrics creates and registers the metric set.
func NewBusinessMetrics(reg prometheus.Registerer) *BusinessMetrics {
	factory := promauto.With(reg)

	return &BusinessMetrics{
		CheckoutsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_started_total",
			Help:      "Checkout sessions opened, by order kind.",
		}, []string{"kind"}),

		PaymentsConfirmed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Payment confirmation attempts, by outcome.",
		}, []string{"outcome"}),

		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Ledger settlements applied, by order kind and delivery path.",
		}, []string{"kind", "path"}),

		DuplicateSettlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_settlements_total",
			Help:      "Settlement attempts that found an existing record, by delivery path.",
		}, []string{"path"}),

		SettlementDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_degraded_total",
			Help:      "Completed payments whose ledger write failed on one path.",
		}, []string{"path"}),

		SettlementConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_conflicts_total",
			Help:      "Settlement attempts rejected for a snapshot mismatch.",
		}),

		CreditsGranted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Credits applied to account balances.",
		}),

		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Processor notifications received, by event type and outcome.",
		}, []string{"type", "outcome"}),

		WebhookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Webhook handling latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_checkout_sessions",
			Help:      "Checkout sessions currently open.",
		}),
	}
}
