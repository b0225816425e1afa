package integration

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventstore-go/adapters/badger"
	"github.com/codewandler/eventstore-go/adapters/nats"
	"github.com/codewandler/eventstore-go/adapters/sqlstore"
	"github.com/codewandler/eventstore-go/core/commit"
	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

type backend struct {
	name string
	open func(t *testing.T) eventlog.Log
}

var backends = []backend{
	{"mem", func(t *testing.T) eventlog.Log { return eventlog.NewMemLog() }},
	{"badger", func(t *testing.T) eventlog.Log {
		l, err := badger.Open(badger.InMemoryConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		return l
	}},
	{"sqlite", func(t *testing.T) eventlog.Log {
		s, err := sqlstore.Open(t.Context(), sqlstore.Config{Dialect: sqlstore.SQLite, DSN: sqlstore.SQLiteTestDSN(t)})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"postgres", func(t *testing.T) eventlog.Log {
		if testing.Short() {
			t.Skip("skipping container backend in short mode")
		}
		s, err := sqlstore.Open(t.Context(), sqlstore.Config{Dialect: sqlstore.Postgres, DSN: sqlstore.NewPostgresTestContainer(t)})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"mysql", func(t *testing.T) eventlog.Log {
		if testing.Short() {
			t.Skip("skipping container backend in short mode")
		}
		s, err := sqlstore.Open(t.Context(), sqlstore.Config{Dialect: sqlstore.MySQL, DSN: sqlstore.NewMySQLTestContainer(t)})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"nats", func(t *testing.T) eventlog.Log {
		if testing.Short() {
			t.Skip("skipping container backend in short mode")
		}
		l, err := nats.NewLog(nats.LogConfig{Connect: nats.NewTestContainer(t), Memory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		return l
	}},
}

func events(ids ...string) []es.Event {
	out := make([]es.Event, len(ids))
	for i, id := range ids {
		out[i] = es.Event{ID: id, Type: "Deposited", Data: []byte(`{"amount":10}`)}
	}
	return out
}

func newCoordinator(t *testing.T, l eventlog.Log) *commit.Coordinator {
	t.Helper()
	c, err := commit.New(commit.Options{Log: l})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestBackends(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			l := b.open(t)
			t.Run("decisions", func(t *testing.T) { testDecisions(t, l) })
			t.Run("shared log", func(t *testing.T) { testSharedLog(t, l) })
			t.Run("parallel streams", func(t *testing.T) { testParallelStreams(t, l) })
		})
	}
}

func testDecisions(t *testing.T, l eventlog.Log) {
	ctx := t.Context()
	c := newCoordinator(t, l)

	res, err := c.Append(ctx, "acct-1", es.NoStreamYet(), events("A", "B"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionOk, res.Decision)
	require.Equal(t, int64(0), res.StartEventNumber)
	require.Equal(t, int64(1), res.EndEventNumber)

	cases := []struct {
		name     string
		expected es.ExpectedVersion
		ids      []string
		want     es.CommitDecision
	}{
		{"retry", es.NoStreamYet(), []string{"A", "B"}, es.DecisionIdempotent},
		{"stale", es.Exact(0), []string{"C"}, es.DecisionWrongExpectedVersion},
		{"corrupted", es.NoStreamYet(), []string{"A", "C"}, es.DecisionCorruptedIdempotency},
		{"longer retry", es.NoStreamYet(), []string{"A", "B", "C"}, es.DecisionIdempotentNotInsert},
		{"not a stream yet", es.Exact(5), []string{"D"}, es.DecisionWrongExpectedVersion},
	}
	for _, tc := range cases {
		res, err := c.Append(ctx, "acct-1", tc.expected, events(tc.ids...))
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, res.Decision, tc.name)
	}

	v, err := c.CurrentVersion(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v)

	res, err = c.Append(ctx, "acct-1", es.Exact(1), events("C"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionOk, res.Decision)
	require.Equal(t, int64(2), res.StartEventNumber)
}

// testSharedLog runs two coordinators on one log. The one that lost the race
// learns about it from the log and recovers on the next append.
func testSharedLog(t *testing.T, l eventlog.Log) {
	ctx := t.Context()
	c1 := newCoordinator(t, l)
	c2 := newCoordinator(t, l)

	v, err := c2.CurrentVersion(ctx, "shared")
	require.NoError(t, err)
	require.Equal(t, es.NoStream, v)

	res, err := c1.Append(ctx, "shared", es.NoStreamYet(), events("s0"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionOk, res.Decision)

	res, err = c2.Append(ctx, "shared", es.NoStreamYet(), events("x0"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionWrongExpectedVersion, res.Decision)

	res, err = c2.Append(ctx, "shared", es.NoStreamYet(), events("s0"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionIdempotent, res.Decision)

	res, err = c2.Append(ctx, "shared", es.Exact(0), events("s1"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionOk, res.Decision)
}

func testParallelStreams(t *testing.T, l eventlog.Log) {
	ctx := t.Context()
	c := newCoordinator(t, l)

	const streams, writers, appends = 3, 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < appends; i++ {
				stream := fmt.Sprintf("par-%d", (w+i)%streams)
				res, err := c.Append(ctx, stream, es.Any(), events(fmt.Sprintf("w%d-%d", w, i)))
				if assert.NoError(t, err) {
					assert.Equal(t, es.DecisionOk, res.Decision)
				}
			}
		}()
	}
	wg.Wait()

	var total int64
	for s := 0; s < streams; s++ {
		v, err := c.CurrentVersion(ctx, fmt.Sprintf("par-%d", s))
		require.NoError(t, err)
		total += int64(v) + 1
	}
	require.Equal(t, int64(writers*appends), total)
}
