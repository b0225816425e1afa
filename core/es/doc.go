// Package es holds the shared vocabulary of the stream commit core.
//
// # Streams and versions
//
// A stream is an ordered, append-only sequence of events keyed by a string.
// Each event has a zero-based event number. The [Version] of a stream is the
// event number of its last committed event, [NoStream] (-1) before the first
// write, and [DeletedVersion] after the stream was tombstoned.
//
// # Appending
//
// Writers submit a batch of [Event] values together with an
// [ExpectedVersion]:
//
//	events := []es.Event{e0, e1}
//	res, err := coordinator.Append(ctx, "acct-1", es.NoStreamYet(), events)
//	if err != nil {
//	    // transient: nothing was written, retry with the same expected version
//	}
//	switch res.Decision {
//	case es.DecisionOk, es.DecisionIdempotent:
//	    // committed
//	case es.DecisionWrongExpectedVersion:
//	    // re-read the current version and decide again
//	}
//
// Every append produces a [CommitCheckResult]. Rejections are values, not
// errors. The error return is reserved for [TransientError] and
// [ErrIndexDiverged].
//
// # Idempotency
//
// A batch resubmitted with the same expected version and the same event IDs
// is acknowledged as [DecisionIdempotent] without a second write. Differing
// IDs at an already committed event number yield
// [DecisionCorruptedIdempotency], which must never be retried.
package es
