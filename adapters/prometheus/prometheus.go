// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the commit path and the stream index.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/eventstore-go/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

// AllMetrics holds the Prometheus implementations for the commit path and
// the index. Use this to wire a coordinator and its index in one go.
type AllMetrics struct {
	Commit *commitMetrics
	Index  *indexMetrics
}

// NewAllMetrics registers every collector with reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Commit: NewCommitMetrics(reg).(*commitMetrics),
		Index:  NewIndexMetrics(reg).(*indexMetrics),
	}
}
