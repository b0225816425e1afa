package index

import "github.com/codewandler/eventstore-go/core/metrics"

// Metrics observes how position lookups are served.
type Metrics interface {
	// PositionLookup counts a lookup by source: "tail", "cache" or "log".
	PositionLookup(source string)
	// WarmDuration times loading a cold stream head from the log.
	WarmDuration() metrics.Timer
}

type nopMetrics struct{}

func (nopMetrics) PositionLookup(string)       {}
func (nopMetrics) WarmDuration() metrics.Timer { return metrics.NopTimer() }

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
