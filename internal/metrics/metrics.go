// Package metrics exposes the engine's Prometheus collectors. Registration
// happens at init via promauto; the HTTP layer serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsTotal counts ledger writes by operation and outcome.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "montrack_ledger_transactions_total",
		Help: "Total ledger operations",
	}, []string{"operation", "outcome"})

	// IngestDuplicates counts externally synced movements rejected by the
	// (account, originalId) dedup check.
	IngestDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "montrack_ingest_duplicates_total",
		Help: "External transactions rejected as duplicates",
	})

	// AutolinkCandidates counts candidate source transactions examined per
	// auto-link pass, labeled by match outcome.
	AutolinkCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "montrack_autolink_candidates_total",
		Help: "Auto-linker candidates by outcome",
	}, []string{"outcome"})

	// AutolinkPassDuration observes the wall time of one per-user pass.
	AutolinkPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "montrack_autolink_pass_duration_seconds",
		Help:    "Auto-linker pass latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// RateLookupFailures counts conversions that fell back to the raw amount
	// because no exchange rate was available.
	RateLookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "montrack_rate_lookup_failures_total",
		Help: "Reference-currency conversions with no available rate",
	})
)
