package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// tracer creates spans for retrieval operations.
var tracer = otel.Tracer("sercha-scope.services")

var (
	// searchesTotal counts searches by the strategy that produced the result.
	//
	// Labels:
	//   - path: "scoped" or "pool"
	//   - strategy: "semantic", "lexical", "first_k", "none"
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sercha",
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Searches by path and the strategy that answered.",
		},
		[]string{"path", "strategy"},
	)

	// fallbacksTotal counts strategies that failed or came back empty.
	//
	// Labels:
	//   - from: strategy that was skipped
	//   - reason: "error", "empty", "unavailable"
	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sercha",
			Subsystem: "retrieval",
			Name:      "fallbacks_total",
			Help:      "Retrieval strategies skipped in favour of the next one.",
		},
		[]string{"from", "reason"},
	)

	// scopedBuildDuration tracks how long BuildScoped takes.
	scopedBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sercha",
			Subsystem: "retrieval",
			Name:      "scoped_build_duration_seconds",
			Help:      "Time to build a scoped search function.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"semantic"},
	)

	// poolRebuildsTotal counts whole-pool index builds.
	//
	// Labels:
	//   - trigger: "lazy", "rebuild"
	//   - status: "success", "failure", "busy"
	poolRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sercha",
			Subsystem: "pool",
			Name:      "index_builds_total",
			Help:      "Whole-pool index builds.",
		},
		[]string{"trigger", "status"},
	)

	// poolIndexChunks reports the size of the active whole-pool index.
	poolIndexChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sercha",
			Subsystem: "pool",
			Name:      "index_chunks",
			Help:      "Chunks in the active whole-pool index.",
		},
	)

	// turnsActive tracks turns between Begin and End.
	turnsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sercha",
			Subsystem: "turn",
			Name:      "active",
			Help:      "Turns currently in flight.",
		},
	)

	// turnsTotal counts turns by scope state.
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sercha",
			Subsystem: "turn",
			Name:      "total",
			Help:      "Turns started, by scope state.",
		},
		[]string{"scope"},
	)
)

func recordSearch(path string, strategy domain.RetrievalStrategy) {
	searchesTotal.WithLabelValues(path, string(strategy)).Inc()
}

func recordFallback(from domain.RetrievalStrategy, reason string) {
	fallbacksTotal.WithLabelValues(string(from), reason).Inc()
}

func recordScopedBuild(start time.Time, semantic bool) {
	label := "false"
	if semantic {
		label = "true"
	}
	scopedBuildDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func recordPoolBuild(trigger, status string) {
	poolRebuildsTotal.WithLabelValues(trigger, status).Inc()
}

// failSpan marks span as failed with err.
func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
