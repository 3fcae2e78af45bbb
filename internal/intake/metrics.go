package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	jobs       *prometheus.CounterVec
	stage      *prometheus.HistogramVec
	active     prometheus.Gauge
	queueDepth prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2v",
			Subsystem: "intake",
			Name:      "jobs_total",
			Help:      "Finished jobs by outcome (done or the failing stage).",
		}, []string{"outcome"}),
		stage: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "v2v",
			Subsystem: "intake",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "v2v",
			Subsystem: "intake",
			Name:      "jobs_active",
			Help:      "Jobs currently being processed.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "v2v",
			Subsystem: "intake",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
	}
}
