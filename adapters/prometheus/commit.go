package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/eventstore-go/core/commit"
	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/metrics"
)

// commitMetrics implements commit.Metrics using Prometheus.
type commitMetrics struct {
	appendDuration prometheus.Histogram
	sectionWait    prometheus.Histogram
	waiting        prometheus.Gauge
	decisions      *prometheus.CounterVec
	eventsAppended prometheus.Counter
	indexRetries   prometheus.Counter
}

// NewCommitMetrics creates a new Prometheus implementation of commit.Metrics.
func NewCommitMetrics(reg prometheus.Registerer) commit.Metrics {
	m := &commitMetrics{
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventstore_commit_append_duration_seconds",
			Help:    "Append latency including the wait for the stream, in seconds",
			Buckets: defaultBuckets,
		}),

		sectionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventstore_commit_section_wait_seconds",
			Help:    "Time an append waits for its stream, in seconds",
			Buckets: defaultBuckets,
		}),

		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventstore_commit_waiting",
			Help: "Appends waiting for their stream",
		}),

		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventstore_commit_decisions_total",
			Help: "Commit decisions by outcome",
		}, []string{"decision"}),

		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_commit_events_appended_total",
			Help: "Total number of events written to the log",
		}),

		indexRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_commit_index_retries_total",
			Help: "Failed index updates after a successful log write",
		}),
	}

	reg.MustRegister(
		m.appendDuration,
		m.sectionWait,
		m.waiting,
		m.decisions,
		m.eventsAppended,
		m.indexRetries,
	)

	return m
}

func (m *commitMetrics) AppendDuration() metrics.Timer { return newTimer(m.appendDuration) }
func (m *commitMetrics) SectionWait() metrics.Timer    { return newTimer(m.sectionWait) }
func (m *commitMetrics) Waiting() metrics.Gauge        { return m.waiting }
func (m *commitMetrics) IndexRetries() metrics.Counter { return m.indexRetries }

func (m *commitMetrics) Decision(d es.CommitDecision) {
	m.decisions.WithLabelValues(d.String()).Inc()
}

func (m *commitMetrics) EventsAppended(count int) {
	m.eventsAppended.Add(float64(count))
}

var _ commit.Metrics = (*commitMetrics)(nil)
