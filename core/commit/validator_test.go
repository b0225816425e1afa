package commit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

func newValidator(t *testing.T) (*Validator, *eventlog.MemLog, *index.Index) {
	t.Helper()
	l := eventlog.NewMemLog()
	x := index.New()
	return NewValidator(x, NewChecker(x, l)), l, x
}

func TestValidator_Rules(t *testing.T) {
	v, l, x := newValidator(t)
	committed(t, l, x, "acct-1", "e0", "e1", "e2")

	tests := []struct {
		name     string
		stream   string
		expected es.ExpectedVersion
		events   []es.Event
		decision es.CommitDecision
		current  es.Version
		start    int64
		end      int64
	}{
		{name: "new stream", stream: "acct-2", expected: es.NoStreamYet(), events: batch("n0", "n1"),
			decision: es.DecisionOk, current: es.NoStream, start: 0, end: 1},
		{name: "any on new stream", stream: "acct-2", expected: es.Any(), events: batch("n0"),
			decision: es.DecisionOk, current: es.NoStream, start: 0, end: 0},
		{name: "exact", stream: "acct-1", expected: es.Exact(2), events: batch("e3"),
			decision: es.DecisionOk, current: 2, start: 3, end: 3},
		{name: "any", stream: "acct-1", expected: es.Any(), events: batch("e3", "e4"),
			decision: es.DecisionOk, current: 2, start: 3, end: 4},
		{name: "empty batch at current", stream: "acct-1", expected: es.Exact(2), events: nil,
			decision: es.DecisionOk, current: 2, start: 3, end: 2},
		{name: "empty batch stale", stream: "acct-1", expected: es.Exact(0), events: nil,
			decision: es.DecisionWrongExpectedVersion, current: 2, start: -1, end: -1},
		{name: "ahead", stream: "acct-1", expected: es.Exact(5), events: batch("e3"),
			decision: es.DecisionWrongExpectedVersion, current: 2, start: -1, end: -1},
		{name: "ahead of new stream", stream: "acct-2", expected: es.Exact(0), events: batch("n0"),
			decision: es.DecisionWrongExpectedVersion, current: es.NoStream, start: -1, end: -1},
		{name: "idempotent", stream: "acct-1", expected: es.NoStreamYet(), events: batch("e0", "e1"),
			decision: es.DecisionIdempotent, current: 2, start: 0, end: 1},
		{name: "idempotent tail", stream: "acct-1", expected: es.Exact(1), events: batch("e2"),
			decision: es.DecisionIdempotent, current: 2, start: 2, end: 2},
		{name: "idempotent not insert", stream: "acct-1", expected: es.Exact(0), events: batch("e1", "e2", "e3"),
			decision: es.DecisionIdempotentNotInsert, current: 2, start: 1, end: 2},
		{name: "corrupted", stream: "acct-1", expected: es.NoStreamYet(), events: batch("e0", "x1"),
			decision: es.DecisionCorruptedIdempotency, current: 2, start: -1, end: -1},
		{name: "different writer", stream: "acct-1", expected: es.NoStreamYet(), events: batch("x0", "x1"),
			decision: es.DecisionWrongExpectedVersion, current: 2, start: -1, end: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(t.Context(), tt.stream, tt.expected, tt.events)
			require.NoError(t, err)
			require.Equal(t, tt.decision, res.Decision, res.Reason)
			require.Equal(t, tt.stream, res.StreamID)
			require.Equal(t, tt.current, res.CurrentVersion)
			require.Equal(t, tt.start, res.StartEventNumber)
			require.Equal(t, tt.end, res.EndEventNumber)
		})
	}

	// validation never touches state
	require.Equal(t, es.Version(2), x.CurrentVersion("acct-1"))
	require.Equal(t, es.NoStream, x.CurrentVersion("acct-2"))
	require.Equal(t, 3, l.Len())
}

func TestValidator_IdempotentCarriesPositions(t *testing.T) {
	v, l, x := newValidator(t)
	committed(t, l, x, "acct-1", "e0", "e1")

	res, err := v.Validate(t.Context(), "acct-1", es.NoStreamYet(), batch("e0", "e1"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionIdempotent, res.Decision)
	require.Equal(t, []es.LogPosition{1, 2}, res.Positions)
	require.True(t, res.Succeeded())
	require.NoError(t, res.Err())

	res, err = v.Validate(t.Context(), "acct-1", es.NoStreamYet(), batch("e0", "e1", "e2"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionIdempotentNotInsert, res.Decision)
	require.Equal(t, []es.LogPosition{1, 2}, res.Positions)
	require.ErrorIs(t, res.Err(), es.ErrIdempotentNotInsert)
}

func TestValidator_InvalidTransaction(t *testing.T) {
	v, l, x := newValidator(t)
	committed(t, l, x, "acct-1", "e0")
	// rejected before the index is consulted, even for a deleted stream
	require.NoError(t, x.MarkDeleted(t.Context(), "acct-1"))

	foreign := batch("e1")
	foreign[0].StreamID = "acct-2"
	untyped := batch("e1")
	untyped[0].Type = ""

	tests := []struct {
		name     string
		stream   string
		expected es.ExpectedVersion
		events   []es.Event
	}{
		{name: "empty stream id", stream: "", expected: es.Any(), events: batch("e1")},
		{name: "expected below -1", stream: "acct-1", expected: es.Expect(-3), events: batch("e1")},
		{name: "foreign stream", stream: "acct-1", expected: es.Any(), events: foreign},
		{name: "empty id", stream: "acct-1", expected: es.Any(), events: batch("")},
		{name: "empty type", stream: "acct-1", expected: es.Any(), events: untyped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(t.Context(), tt.stream, tt.expected, tt.events)
			require.NoError(t, err)
			require.Equal(t, es.DecisionInvalidTransaction, res.Decision)
			require.ErrorIs(t, res.Err(), es.ErrInvalidTransaction)
			require.NotEmpty(t, res.Reason)
			require.Equal(t, int64(-1), res.StartEventNumber)
		})
	}

	t.Run("matching stream id is fine", func(t *testing.T) {
		own := batch("n0")
		own[0].StreamID = "acct-3"
		res, err := v.Validate(t.Context(), "acct-3", es.Expect(-2), own)
		require.NoError(t, err)
		require.Equal(t, es.DecisionOk, res.Decision)
	})
}

func TestValidator_Deleted(t *testing.T) {
	v, l, x := newValidator(t)
	committed(t, l, x, "acct-1", "e0", "e1")
	require.NoError(t, x.MarkDeleted(t.Context(), "acct-1"))

	for _, expected := range []es.ExpectedVersion{es.Any(), es.NoStreamYet(), es.Exact(1), es.Exact(7)} {
		res, err := v.Validate(t.Context(), "acct-1", expected, batch("e2"))
		require.NoError(t, err)
		require.Equal(t, es.DecisionStreamDeleted, res.Decision, expected.String())
		require.Equal(t, es.DeletedVersion, res.CurrentVersion)
	}
}

func TestValidator_LookupFailure(t *testing.T) {
	l := eventlog.NewMemLog()
	x := index.New()
	committed(t, l, x, "acct-1", "e0")

	faulty := eventlog.NewFaulty(l)
	faulty.FailReads(errors.New("io timeout"))
	v := NewValidator(x, NewChecker(x, faulty))

	_, err := v.Validate(t.Context(), "acct-1", es.NoStreamYet(), batch("e0"))
	require.Error(t, err)
	require.True(t, es.IsRetryable(err))

	// the happy path never reads ids
	res, err := v.Validate(t.Context(), "acct-1", es.Exact(0), batch("e1"))
	require.NoError(t, err)
	require.Equal(t, es.DecisionOk, res.Decision)
}

func TestValidator_ValidateDelete(t *testing.T) {
	v, l, x := newValidator(t)
	committed(t, l, x, "acct-1", "e0", "e1")

	res := v.ValidateDelete("acct-1", es.Exact(0))
	require.Equal(t, es.DecisionWrongExpectedVersion, res.Decision)

	res = v.ValidateDelete("acct-1", es.Exact(1))
	require.Equal(t, es.DecisionOk, res.Decision)
	require.Equal(t, es.Version(1), res.CurrentVersion)
	require.Zero(t, res.Len())

	res = v.ValidateDelete("", es.Any())
	require.Equal(t, es.DecisionInvalidTransaction, res.Decision)

	require.NoError(t, x.MarkDeleted(t.Context(), "acct-1"))
	res = v.ValidateDelete("acct-1", es.Any())
	require.Equal(t, es.DecisionStreamDeleted, res.Decision)
}
