package commit

import (
	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/metrics"
)

// Metrics defines the metrics interface for the commit path.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// AppendDuration covers queueing, validation and the log write.
	AppendDuration() metrics.Timer
	// SectionWait covers the time an append waits for its stream.
	SectionWait() metrics.Timer
	// Waiting tracks appends queued behind another append to the same stream.
	Waiting() metrics.Gauge
	Decision(d es.CommitDecision)
	EventsAppended(count int)
	// IndexRetries counts failed index updates after a successful log write.
	IndexRetries() metrics.Counter
}

type nopMetrics struct{}

func (nopMetrics) AppendDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SectionWait() metrics.Timer    { return metrics.NopTimer() }
func (nopMetrics) Waiting() metrics.Gauge        { return metrics.NopGauge() }
func (nopMetrics) Decision(es.CommitDecision)    {}
func (nopMetrics) EventsAppended(int)            {}
func (nopMetrics) IndexRetries() metrics.Counter { return metrics.NopCounter() }

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
