package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventstore-go/core/commit"
	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

func TestNewCommitMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCommitMetrics(reg)
	require.NotNil(t, m)

	timer := m.AppendDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.SectionWait().ObserveDuration()

	m.Waiting().Inc()
	m.Waiting().Inc()
	m.Waiting().Dec()

	m.Decision(es.DecisionOk)
	m.Decision(es.DecisionOk)
	m.Decision(es.DecisionCorruptedIdempotency)
	m.EventsAppended(5)
	m.IndexRetries().Inc()

	cm := m.(*commitMetrics)
	assert.Equal(t, float64(1), testutil.ToFloat64(cm.waiting))
	assert.Equal(t, float64(2), testutil.ToFloat64(cm.decisions.WithLabelValues("Ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(cm.decisions.WithLabelValues("CorruptedIdempotency")))
	assert.Equal(t, float64(5), testutil.ToFloat64(cm.eventsAppended))
	assert.Equal(t, float64(1), testutil.ToFloat64(cm.indexRetries))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["eventstore_commit_append_duration_seconds"])
	assert.True(t, names["eventstore_commit_section_wait_seconds"])
	assert.True(t, names["eventstore_commit_decisions_total"])
}

func TestNewIndexMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIndexMetrics(reg)

	m.PositionLookup("tail")
	m.PositionLookup("log")
	m.PositionLookup("log")
	m.WarmDuration().ObserveDuration()

	im := m.(*indexMetrics)
	assert.Equal(t, float64(1), testutil.ToFloat64(im.lookups.WithLabelValues("tail")))
	assert.Equal(t, float64(2), testutil.ToFloat64(im.lookups.WithLabelValues("log")))
	assert.Equal(t, 1, testutil.CollectAndCount(im.warmDuration))
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	all := NewAllMetrics(reg)
	require.NotNil(t, all.Commit)
	require.NotNil(t, all.Index)

	// registering twice must panic
	assert.Panics(t, func() { NewAllMetrics(reg) })
}

func TestMetrics_WiredIntoCoordinator(t *testing.T) {
	ctx := t.Context()
	reg := prometheus.NewRegistry()
	all := NewAllMetrics(reg)

	l := eventlog.NewMemLog()
	x := index.New(index.WithLoader(l), index.WithMetrics(all.Index))
	defer x.Close()
	c, err := commit.New(commit.Options{Log: l, Index: x, Metrics: all.Commit})
	require.NoError(t, err)
	defer c.Close()

	events := []es.Event{{ID: "e0", Type: "Deposited"}, {ID: "e1", Type: "Deposited"}}
	_, err = c.Append(ctx, "acct-1", es.NoStreamYet(), events)
	require.NoError(t, err)
	res, err := c.Append(ctx, "acct-1", es.NoStreamYet(), events)
	require.NoError(t, err)
	require.Equal(t, es.DecisionIdempotent, res.Decision)

	assert.Equal(t, float64(2), testutil.ToFloat64(all.Commit.eventsAppended))
	assert.Equal(t, float64(1), testutil.ToFloat64(all.Commit.decisions.WithLabelValues("Idempotent")))
	assert.Equal(t, float64(0), testutil.ToFloat64(all.Commit.waiting))
	assert.Equal(t, float64(2), testutil.ToFloat64(all.Index.lookups.WithLabelValues("tail")))
}
