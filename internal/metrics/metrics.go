package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeCompleted labels runs that reached a sealed result.
	OutcomeCompleted = "completed"
	// OutcomeFailed labels runs finalised as failed (precondition aborts).
	OutcomeFailed = "failed"
	// OutcomeError labels runs that could not be finalised at all.
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "torsight_tca",
			Name:      "analyses_total",
			Help:      "Total number of correlation analyses run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "torsight_tca",
			Name:      "analysis_seconds",
			Help:      "Correlation analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	caseCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "torsight_tca",
			Name:      "cases",
			Help:      "Current number of stored analysis cases by status.",
		},
		[]string{"status"},
	)
)

// Register attaches the engine collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		caseCount,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records one analysis run's duration and outcome.
func ObserveAnalysis(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeError:
	default:
		outcome = OutcomeError
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// SetCaseCount publishes the stored case count for one status.
func SetCaseCount(status string, n int) {
	caseCount.WithLabelValues(status).Set(float64(n))
}
