package eventlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventstore-go/core/es"
)

func events(ids ...string) []es.Event {
	out := make([]es.Event, len(ids))
	for i, id := range ids {
		out[i] = es.Event{ID: id, Type: "Test"}
	}
	return out
}

func TestMemLog(t *testing.T) {
	ctx := t.Context()
	l := NewMemLog()

	n, err := l.LastEventNumber(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(-1), n)

	pos, err := l.Append(ctx, "acct-1", 0, events("e0", "e1"))
	require.NoError(t, err)
	require.Equal(t, []es.LogPosition{1, 2}, pos)

	pos, err = l.Append(ctx, "acct-2", 0, events("x0"))
	require.NoError(t, err)
	require.Equal(t, []es.LogPosition{3}, pos)

	_, err = l.Append(ctx, "acct-1", 1, events("dup"))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	id, err := l.ReadEventID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "e1", id)

	_, err = l.ReadEventID(ctx, 99)
	require.ErrorIs(t, err, ErrPositionNotFound)

	p, err := l.PositionOf(ctx, "acct-1", 1)
	require.NoError(t, err)
	require.Equal(t, es.LogPosition(2), p)

	_, err = l.PositionOf(ctx, "acct-1", 2)
	require.ErrorIs(t, err, ErrEventNotFound)

	n, err = l.LastEventNumber(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	recs := l.Records("acct-1")
	require.Len(t, recs, 2)
	require.Equal(t, int64(1), recs[1].EventNumber)
	require.Equal(t, 3, l.Len())
}

func TestFaulty(t *testing.T) {
	ctx := t.Context()
	boom := errors.New("io error")
	f := NewFaulty(NewMemLog())

	f.FailAppends(boom)
	_, err := f.Append(ctx, "s", 0, events("a"))
	require.ErrorIs(t, err, boom)
	require.Zero(t, f.Appends())

	f.FailAppends(nil)
	_, err = f.Append(ctx, "s", 0, events("a"))
	require.NoError(t, err)
	require.Equal(t, int64(1), f.Appends())

	f.FailReads(boom)
	_, err = f.ReadEventID(ctx, 1)
	require.ErrorIs(t, err, boom)
}
