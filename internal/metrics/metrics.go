// Package metrics holds the Prometheus collectors shared by the wallet binaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerOperations counts balance mutations by operation (credit, debit, reserve) and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wallet",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Total ledger balance operations by operation and outcome.",
}, []string{"operation", "outcome"})

// TransactionsResolved counts terminal transitions by transaction type and resulting status.
var TransactionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wallet",
	Subsystem: "transactions",
	Name:      "resolved_total",
	Help:      "Total transactions moved to a terminal state.",
}, []string{"type", "status"})

// WebhookEvents counts ingested gateway events by type and processing status.
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wallet",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Total gateway webhook events by event type and processing status.",
}, []string{"event_type", "status"})

// SettlementRuns counts schedule runs by outcome (settled, skipped, conflict, error).
var SettlementRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wallet",
	Subsystem: "settlement",
	Name:      "runs_total",
	Help:      "Total settlement schedule runs by outcome.",
}, []string{"outcome"})

// Reconciliation counts stale pending transactions re-verified by the sweep.
var Reconciliation = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wallet",
	Subsystem: "reconciliation",
	Name:      "results_total",
	Help:      "Total reconciliation sweep results by outcome.",
}, []string{"outcome"})

// GatewayRequestDuration observes Paystack call latency.
var GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "wallet",
	Subsystem: "gateway",
	Name:      "request_duration_seconds",
	Help:      "Latency of payment gateway requests by operation and outcome.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation", "outcome"})

// ObserveGateway records a gateway call that started at start.
func ObserveGateway(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	GatewayRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
