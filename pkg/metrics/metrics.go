package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ============================================
	// Quotes
	// ============================================
	QuoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_quote_requests_total",
			Help: "Quote requests by outcome (pending, success, error, disabled, stale, deduplicated)",
		},
		[]string{"outcome"},
	)

	QuoteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "solvernet_quote_duration_seconds",
		Help:    "Quote service round trip duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ============================================
	// Approvals
	// ============================================
	ApprovalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_approval_transitions_total",
			Help: "Approval gate state transitions by target state",
		},
		[]string{"state"},
	)

	// ============================================
	// Orders
	// ============================================
	OrderValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_order_validations_total",
			Help: "Order validations by result",
		},
		[]string{"status"},
	)

	OrderPhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_order_phase_transitions_total",
			Help: "Order orchestrator phase transitions by target phase",
		},
		[]string{"phase"},
	)

	OrderSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_order_submissions_total",
			Help: "Order submissions by result (submitted, rejected_by_user, failed)",
		},
		[]string{"result"},
	)

	StaleResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_stale_responses_total",
			Help: "Responses discarded because a newer request superseded them",
		},
		[]string{"kind"},
	)

	// ============================================
	// External lookups
	// ============================================
	ABILookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solvernet_abi_lookups_total",
			Help: "Explorer ABI lookups by result",
		},
		[]string{"result"},
	)
)

// Handler exposes the default registry for scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
