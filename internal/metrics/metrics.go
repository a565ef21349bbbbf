package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Flush results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Skip reasons for auto-save ticks.
const (
	SkipInFlight = "in_flight"
	SkipClean    = "clean"
)

// Session outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

var (
	// AutosaveFlushTotal counts checkpoint flushes by result.
	AutosaveFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_session_autosave_flush_total",
		Help: "Total checkpoint flushes by result",
	}, []string{"result"})

	// AutosaveSkippedTotal counts ticks that did not flush.
	AutosaveSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_session_autosave_skipped_total",
		Help: "Auto-save ticks skipped by reason",
	}, []string{"reason"})

	AutosaveFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exam_session_autosave_flush_duration_seconds",
		Help:    "Checkpoint flush duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exam_session_active",
		Help: "Sessions currently live in memory",
	})

	SessionsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_session_finalized_total",
		Help: "Sessions that reached a terminal state by outcome",
	}, []string{"outcome"})
)
