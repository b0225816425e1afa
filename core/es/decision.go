package es

import "log/slog"

// CommitDecision is the outcome of validating an append.
type CommitDecision uint8

const (
	DecisionOk CommitDecision = iota
	DecisionWrongExpectedVersion
	DecisionIdempotent
	// DecisionIdempotentNotInsert is a retry whose prefix was already committed
	// but which extends past the current end of the stream.
	DecisionIdempotentNotInsert
	DecisionCorruptedIdempotency
	DecisionInvalidTransaction
	DecisionStreamDeleted
)

var decisionNames = [...]string{
	DecisionOk:                   "Ok",
	DecisionWrongExpectedVersion: "WrongExpectedVersion",
	DecisionIdempotent:           "Idempotent",
	DecisionIdempotentNotInsert:  "IdempotentNotInsert",
	DecisionCorruptedIdempotency: "CorruptedIdempotency",
	DecisionInvalidTransaction:   "InvalidTransaction",
	DecisionStreamDeleted:        "StreamDeleted",
}

var decisionErrors = [...]error{
	DecisionWrongExpectedVersion: ErrConcurrencyConflict,
	DecisionIdempotentNotInsert:  ErrIdempotentNotInsert,
	DecisionCorruptedIdempotency: ErrCorruptedIdempotency,
	DecisionInvalidTransaction:   ErrInvalidTransaction,
	DecisionStreamDeleted:        ErrStreamDeleted,
}

func (d CommitDecision) String() string {
	if int(d) < len(decisionNames) {
		return decisionNames[d]
	}
	return "Unknown"
}

func (d CommitDecision) SlogAttr() slog.Attr { return slog.String("decision", d.String()) }

// CommitCheckResult describes a validated append. It is a value; treat it as
// immutable once returned.
type CommitCheckResult struct {
	Decision       CommitDecision
	StreamID       string
	CurrentVersion Version
	// StartEventNumber and EndEventNumber form an inclusive range. Both are -1
	// for rejections. An empty batch yields End == Start-1.
	StartEventNumber int64
	EndEventNumber   int64
	Positions        []LogPosition
	Reason           string
}

// Rejected builds a result without an event-number range.
func Rejected(d CommitDecision, streamID string, current Version, reason string) CommitCheckResult {
	return CommitCheckResult{
		Decision:         d,
		StreamID:         streamID,
		CurrentVersion:   current,
		StartEventNumber: -1,
		EndEventNumber:   -1,
		Reason:           reason,
	}
}

// Succeeded is true when the batch is committed, either now or by an earlier call.
func (r CommitCheckResult) Succeeded() bool {
	return r.Decision == DecisionOk || r.Decision == DecisionIdempotent
}

// Len is the number of event numbers in the range.
func (r CommitCheckResult) Len() int {
	if r.StartEventNumber < 0 || r.EndEventNumber < r.StartEventNumber {
		return 0
	}
	return int(r.EndEventNumber - r.StartEventNumber + 1)
}

// NextExpectedVersion is the expected version for a follow-up append.
func (r CommitCheckResult) NextExpectedVersion() Version {
	if r.Succeeded() && r.Len() > 0 {
		return Version(r.EndEventNumber)
	}
	return r.CurrentVersion
}

// Err maps the decision to a sentinel error; nil for Ok and Idempotent.
func (r CommitCheckResult) Err() error {
	if int(r.Decision) < len(decisionErrors) {
		return decisionErrors[r.Decision]
	}
	return nil
}

func (r CommitCheckResult) SlogAttr() slog.Attr {
	return slog.Group("commit",
		slog.String("stream", r.StreamID),
		r.Decision.SlogAttr(),
		r.CurrentVersion.SlogAttrWithKey("current"),
		slog.Int64("start", r.StartEventNumber),
		slog.Int64("end", r.EndEventNumber),
	)
}
