// Package metrics exposes Prometheus instrumentation for segmentation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeInvalid   = "invalid"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics groups the collectors updated by a segmentation session
type Metrics struct {
	FeatureSeconds   prometheus.Histogram
	TrainingSeconds  prometheus.Histogram
	InferenceSeconds prometheus.Histogram
	TrainingRows     prometheus.Gauge
	OOBScore         prometheus.Gauge
	Runs             *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	buckets := prometheus.ExponentialBuckets(0.01, 4, 8)

	m := &Metrics{
		FeatureSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oneshotseg",
			Name:      "feature_extraction_seconds",
			Help:      "Time spent computing the feature cache of a volume.",
			Buckets:   buckets,
		}),
		TrainingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oneshotseg",
			Name:      "training_seconds",
			Help:      "Time spent building the training table and fitting the ensemble.",
			Buckets:   buckets,
		}),
		InferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oneshotseg",
			Name:      "inference_seconds",
			Help:      "Time spent predicting the probability volume.",
			Buckets:   buckets,
		}),
		TrainingRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oneshotseg",
			Name:      "training_rows",
			Help:      "Labelled pixels gathered for the last training run.",
		}),
		OOBScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oneshotseg",
			Name:      "oob_accuracy",
			Help:      "Out-of-bag accuracy of the last fitted ensemble.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneshotseg",
			Name:      "runs_total",
			Help:      "Segmentation runs by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FeatureSeconds,
			m.TrainingSeconds,
			m.InferenceSeconds,
			m.TrainingRows,
			m.OOBScore,
			m.Runs,
		)
	}
	return m
}

// ObserveSince records the time elapsed since start on h
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
