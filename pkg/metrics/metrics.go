// Package metrics exposes prometheus collectors for the settlement core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksProcessed counts inbound payment events by outcome
	// (completed, duplicate, rejected, error).
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ramp_webhooks_processed_total",
		Help: "Payment webhook events processed, by outcome",
	}, []string{"outcome"})

	// ReconcileDuration observes reconciliation latency in seconds.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ramp_reconcile_duration_seconds",
		Help:    "Reconciliation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Distributions counts settlement token transfers by outcome
	// (sent, duplicate, error).
	Distributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ramp_distributions_total",
		Help: "On-ramp settlement transfers, by outcome",
	}, []string{"outcome"})

	// SwapAttempts counts off-ramp swap attempts by outcome
	// (success, failed).
	SwapAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ramp_swap_attempts_total",
		Help: "Off-ramp swap attempts, by outcome",
	}, []string{"outcome"})

	// Payouts counts fiat payout initiations by outcome
	// (initiated, duplicate, error).
	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ramp_payouts_total",
		Help: "Off-ramp fiat payouts, by outcome",
	}, []string{"outcome"})

	// GasTopUps counts master-wallet gas sponsorship transfers.
	GasTopUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ramp_gas_topups_total",
		Help: "Gas top-up transfers from the master wallet",
	})
)
