package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Metrics tracks request decisions and upstream behavior for /metrics.
type Metrics struct {
	Decisions          *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	RehostUploads      prometheus.Counter
}

func NewMetrics(logger *logrus.Logger) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagegate_prompt_decisions_total",
			Help: "Prompt request outcomes by decision",
		}, []string{"decision"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagegate_generation_duration_seconds",
			Help:    "Latency of upstream generation calls",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		RehostUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagegate_rehost_uploads_total",
			Help: "Images re-hosted into object storage",
		}),
	}

	// Ignore duplicate registration so tests can build multiple instances
	collectors := []prometheus.Collector{m.Decisions, m.GenerationDuration, m.RehostUploads}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register metric")
			}
		}
	}

	return m
}
