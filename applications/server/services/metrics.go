package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsInitialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "coordinator",
			Name:      "sessions_initialized_total",
			Help:      "Total number of chunked upload sessions created",
		},
		[]string{"file_type"},
	)

	chunksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "coordinator",
			Name:      "chunks_received_total",
			Help:      "Total number of chunk parts written through the coordinator",
		},
	)

	chunkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "coordinator",
			Name:      "chunk_bytes_total",
			Help:      "Total bytes of chunk parts written through the coordinator",
		},
	)

	finalizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "coordinator",
			Name:      "finalizations_total",
			Help:      "Finalize attempts by outcome",
		},
		[]string{"outcome"},
	)

	finalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chunkup",
			Subsystem: "coordinator",
			Name:      "finalize_duration_seconds",
			Help:      "Duration of assembling chunk parts into an artifact",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	sessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "sweeper",
			Name:      "sessions_removed_total",
			Help:      "Expired sessions removed by the sweeper",
		},
	)

	sweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "sweeper",
			Name:      "errors_total",
			Help:      "Sweeper runs that failed",
		},
	)
)
