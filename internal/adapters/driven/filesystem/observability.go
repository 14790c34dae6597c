package filesystem

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons for documentsSkippedTotal
const (
	skipUnsupported = "unsupported"
	skipTooLarge    = "too_large"
	skipUnreadable  = "unreadable"
	skipExtract     = "extract_failed"
	skipEmpty       = "empty"
)

var (
	// documentsSkippedTotal counts pool files dropped while loading.
	//
	// Labels:
	//   - reason: "unsupported", "too_large", "unreadable", "extract_failed", "empty"
	documentsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sercha",
			Subsystem: "pool",
			Name:      "documents_skipped_total",
			Help:      "Pool files skipped while loading documents.",
		},
		[]string{"reason"},
	)

	// documentsLoadedTotal counts documents loaded from the pool.
	documentsLoadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sercha",
			Subsystem: "pool",
			Name:      "documents_loaded_total",
			Help:      "Documents loaded from the pool.",
		},
	)
)
