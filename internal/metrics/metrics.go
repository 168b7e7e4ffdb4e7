package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paperfold/fortuneteller/internal/workflow"
)

var (
	// SubmissionsTotal counts finished submissions by workflow and outcome
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortuneteller_submissions_total",
		Help: "The total number of finished submissions to the processing service",
	}, []string{"workflow", "outcome"})

	// SubmissionDuration is the time from trigger to response
	SubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fortuneteller_submission_duration_seconds",
		Help:    "Time spent waiting on the processing service",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"workflow"})

	// ActiveWorkspaces is the number of live browser workspaces
	ActiveWorkspaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fortuneteller_active_workspaces",
		Help: "The number of browser workspaces currently held in memory",
	})

	// RejectedActions counts user actions refused before reaching the network
	RejectedActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortuneteller_rejected_actions_total",
		Help: "User actions rejected by local validation",
	}, []string{"action", "reason"})
)

// Observe records a finished submission. It satisfies workflow.Observer.
func Observe(name string, outcome workflow.Outcome, elapsed time.Duration) {
	SubmissionsTotal.WithLabelValues(name, string(outcome)).Inc()
	if outcome != workflow.OutcomeDiscarded {
		SubmissionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

var _ workflow.Observer = Observe
