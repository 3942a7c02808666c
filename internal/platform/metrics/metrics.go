// Package metrics registers the Prometheus metrics for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	SubmissionsAccepted prometheus.Counter
	SubmissionsRejected *prometheus.CounterVec
	AdmissionRejected   *prometheus.CounterVec
	ChunksReceived      prometheus.Counter
	BytesStored         prometheus.Counter
	SweepRuns           prometheus.Counter
	SweepRemoved        prometheus.Counter
}

// New creates all metrics and registers them on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on reg. Tests pass a fresh registry so
// packages can construct metrics independently.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sportello_submissions_accepted_total",
			Help: "Submissions that completed the full pipeline",
		}),
		SubmissionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sportello_submissions_rejected_total",
			Help: "Submissions rejected, labelled by pipeline step",
		}, []string{"step"}),
		AdmissionRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sportello_admission_rejected_total",
			Help: "Archive admission rejections, labelled by reason",
		}, []string{"reason"}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "sportello_chunks_received_total",
			Help: "Upload chunks accepted into scratch storage",
		}),
		BytesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "sportello_bytes_stored_total",
			Help: "Bytes committed to permanent archive storage",
		}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "sportello_sweep_runs_total",
			Help: "Scratch sweep executions",
		}),
		SweepRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "sportello_sweep_removed_total",
			Help: "Abandoned sessions and artifacts removed by the sweep",
		}),
	}
}
