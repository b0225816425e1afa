package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/core/metrics"
)

// indexMetrics implements index.Metrics using Prometheus.
type indexMetrics struct {
	lookups      *prometheus.CounterVec
	warmDuration prometheus.Histogram
}

// NewIndexMetrics creates a new Prometheus implementation of index.Metrics.
func NewIndexMetrics(reg prometheus.Registerer) index.Metrics {
	m := &indexMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventstore_index_position_lookups_total",
			Help: "Position lookups by source (tail, cache, log)",
		}, []string{"source"}),

		warmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventstore_index_warm_duration_seconds",
			Help:    "Time to load a cold stream head from the log, in seconds",
			Buckets: defaultBuckets,
		}),
	}

	reg.MustRegister(m.lookups, m.warmDuration)
	return m
}

func (m *indexMetrics) PositionLookup(source string) {
	m.lookups.WithLabelValues(source).Inc()
}

func (m *indexMetrics) WarmDuration() metrics.Timer { return newTimer(m.warmDuration) }

var _ index.Metrics = (*indexMetrics)(nil)
