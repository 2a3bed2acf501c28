// Package metrics exposes upload and validation outcomes to Prometheus. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dharsanguruparan/PlanCheck/internal/model"
)

const namespace = "plancheck"

// Recorder groups the collectors used by the controller and the worker.
type Recorder struct {
	uploads     *prometheus.CounterVec
	validations *prometheus.CounterVec
	scores      prometheus.Histogram
	inflight    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by outcome.",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validations by backend status, or error when the call failed.",
		}, []string{"status"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_score",
			Help:      "Distribution of validation scores.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Upload and validate calls currently waiting on the backend.",
		}),
	}
	reg.MustRegister(r.uploads, r.validations, r.scores, r.inflight)
	return r
}

// UploadFinished counts one settled upload.
func (r *Recorder) UploadFinished(err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.uploads.WithLabelValues(outcome).Inc()
}

// ValidationFinished counts one settled validation.
func (r *Recorder) ValidationFinished(result *model.ValidationResult, err error) {
	if r == nil {
		return
	}
	if err != nil || result == nil {
		r.validations.WithLabelValues("error").Inc()
		return
	}
	r.validations.WithLabelValues(string(result.Status)).Inc()
	r.scores.Observe(result.Score)
}

// Begin marks a backend call in flight and returns the matching end func.
func (r *Recorder) Begin() func() {
	if r == nil {
		return func() {}
	}
	r.inflight.Inc()
	return r.inflight.Dec
}
