// Package metrics holds the Prometheus collectors for accrual runs, the
// event outbox and the HTTP trigger. Collectors register with the default
// registry at init and are served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bank4"

// ─── Accrual ────────────────────────────────────────────────────────────────

// AccrualRuns counts batches by final status (completed, failed).
var AccrualRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "accrual",
	Name:      "runs_total",
	Help:      "Total accrual batches by final status.",
}, []string{"status"})

// AccrualUsers counts per-user outcomes: processed, failed, or a skip reason.
var AccrualUsers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "accrual",
	Name:      "users_total",
	Help:      "Users considered by accrual runs, by outcome.",
}, []string{"outcome"})

// AccrualPostedCents sums the cents posted per category.
var AccrualPostedCents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "accrual",
	Name:      "posted_cents_total",
	Help:      "Cents posted by accrual runs, by category.",
}, []string{"category"})

// AccrualWeeks observes how many weeks each paid user was owed.
var AccrualWeeks = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "accrual",
	Name:      "weeks_processed",
	Help:      "Weeks paid per user per run.",
	Buckets:   []float64{1, 2, 3, 4, 6, 8, 13, 26, 52},
})

// AccrualRunDuration observes batch wall time.
var AccrualRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "accrual",
	Name:      "run_duration_seconds",
	Help:      "Wall time of accrual batches.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Outbox ─────────────────────────────────────────────────────────────────

// OutboxMessages counts relay attempts by result (sent, retry, failed).
var OutboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "outbox",
	Name:      "messages_total",
	Help:      "Outbox relay attempts by result.",
}, []string{"result"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// TriggerRejected counts unauthorized accrual trigger calls.
var TriggerRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "trigger_rejected_total",
	Help:      "Accrual trigger calls rejected for missing or invalid credentials.",
})

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
