package commit

import (
	"context"
	"fmt"

	"github.com/codewandler/eventstore-go/core/es"
)

// State is the index state the validator reads. *index.Index implements it.
type State interface {
	CurrentVersion(streamID string) es.Version
	IsDeleted(streamID string) bool
}

// Validator applies the optimistic-concurrency rules. It never mutates state.
type Validator struct {
	state   State
	checker *Checker
}

func NewValidator(state State, checker *Checker) *Validator {
	return &Validator{state: state, checker: checker}
}

// Validate decides whether events may be appended to streamID. Rejections are
// returned as results; the error is only set when the idempotency lookup
// failed, and is then transient.
func (v *Validator) Validate(ctx context.Context, streamID string, expected es.ExpectedVersion, events []es.Event) (es.CommitCheckResult, error) {
	if reason := checkInput(streamID, expected, events); reason != "" {
		return es.Rejected(es.DecisionInvalidTransaction, streamID, es.NoStream, reason), nil
	}

	if v.state.IsDeleted(streamID) {
		return es.Rejected(es.DecisionStreamDeleted, streamID, es.DeletedVersion, "stream is deleted"), nil
	}

	current := v.state.CurrentVersion(streamID)
	n := int64(len(events))

	if expected.IsAny() || expected.Version() == current {
		return es.CommitCheckResult{
			Decision:         es.DecisionOk,
			StreamID:         streamID,
			CurrentVersion:   current,
			StartEventNumber: int64(current) + 1,
			EndEventNumber:   int64(current) + n,
		}, nil
	}

	exp := expected.Version()
	if exp > current {
		return es.Rejected(es.DecisionWrongExpectedVersion, streamID, current,
			fmt.Sprintf("expected %d, stream is at %d", exp, current)), nil
	}

	// exp < current from here on
	if n == 0 {
		return es.Rejected(es.DecisionWrongExpectedVersion, streamID, current,
			fmt.Sprintf("expected %d, stream is at %d", exp, current)), nil
	}

	first := int64(exp) + 1
	cmp, err := v.checker.Compare(ctx, streamID, first, es.IDs(events), current)
	if err != nil {
		return es.CommitCheckResult{}, err
	}

	switch cmp.Match {
	case FullMatch:
		return es.CommitCheckResult{
			Decision:         es.DecisionIdempotent,
			StreamID:         streamID,
			CurrentVersion:   current,
			StartEventNumber: first,
			EndEventNumber:   first + n - 1,
			Positions:        cmp.Positions,
		}, nil
	case PartialMatch:
		return es.CommitCheckResult{
			Decision:         es.DecisionIdempotentNotInsert,
			StreamID:         streamID,
			CurrentVersion:   current,
			StartEventNumber: first,
			EndEventNumber:   int64(current),
			Positions:        cmp.Positions,
			Reason: fmt.Sprintf("events [%d, %d] already committed, %d not written",
				first, current, first+n-1-int64(current)),
		}, nil
	case Mismatch:
		if cmp.MismatchAt == first {
			// nothing of the batch is committed: a different writer got there first
			return es.Rejected(es.DecisionWrongExpectedVersion, streamID, current,
				fmt.Sprintf("expected %d, stream is at %d", exp, current)), nil
		}
		return es.Rejected(es.DecisionCorruptedIdempotency, streamID, current,
			fmt.Sprintf("event %d committed as %q, batch has %q",
				cmp.MismatchAt, cmp.Committed, events[cmp.MismatchAt-first].ID)), nil
	default:
		// unreachable: first <= current always overlaps
		return es.Rejected(es.DecisionWrongExpectedVersion, streamID, current,
			fmt.Sprintf("expected %d, stream is at %d", exp, current)), nil
	}
}

// ValidateDelete applies the expected-version rules to a stream deletion:
// Any, or an exact match of the current version.
func (v *Validator) ValidateDelete(streamID string, expected es.ExpectedVersion) es.CommitCheckResult {
	if reason := checkInput(streamID, expected, nil); reason != "" {
		return es.Rejected(es.DecisionInvalidTransaction, streamID, es.NoStream, reason)
	}
	if v.state.IsDeleted(streamID) {
		return es.Rejected(es.DecisionStreamDeleted, streamID, es.DeletedVersion, "stream is deleted")
	}
	current := v.state.CurrentVersion(streamID)
	if !expected.IsAny() && expected.Version() != current {
		return es.Rejected(es.DecisionWrongExpectedVersion, streamID, current,
			fmt.Sprintf("expected %d, stream is at %d", expected.Version(), current))
	}
	return es.CommitCheckResult{
		Decision:         es.DecisionOk,
		StreamID:         streamID,
		CurrentVersion:   current,
		StartEventNumber: int64(current) + 1,
		EndEventNumber:   int64(current),
	}
}

func checkInput(streamID string, expected es.ExpectedVersion, events []es.Event) string {
	if streamID == "" {
		return "stream id is empty"
	}
	if !expected.Valid() {
		return fmt.Sprintf("expected version %d is below -1", expected.Version())
	}
	for i, e := range events {
		if e.StreamID != "" && e.StreamID != streamID {
			return fmt.Sprintf("event %d targets stream %q", i, e.StreamID)
		}
		if err := e.Validate(); err != nil {
			return fmt.Sprintf("event %d: %v", i, err)
		}
	}
	return ""
}
