package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transitions counts persisted status changes by target status.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_candidate_transitions_total",
			Help: "Candidate status transitions by target status",
		},
		[]string{"to"},
	)

	// Conflicts counts rejected transitions (stale or duplicate actions).
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_state_conflicts_total",
			Help: "Rejected candidate transitions by source",
		},
		[]string{"source"},
	)

	ScanCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_scan_cycles_total",
			Help: "Scan cycles by outcome",
		},
		[]string{"outcome"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "radar_scan_duration_seconds",
			Help:    "Wall time of one scan cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_fetch_errors_total",
			Help: "Forum fetch failures by kind",
		},
		[]string{"kind"},
	)

	AIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_ai_requests_total",
			Help: "AI backend calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_classifications_total",
			Help: "Classifications by intent and source",
		},
		[]string{"intent", "source"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_notify_deliveries_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	PostAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_post_attempts_total",
			Help: "Forum reply attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func Handler() http.Handler { return promhttp.Handler() }
