// Package commit decides whether an append to a stream is legal and applies
// it.
//
// The Validator is pure: given the index state it maps (stream, expected
// version, batch) to an es.CommitCheckResult. The Checker resolves retries by
// comparing client event identifiers with the committed ones. The
// Coordinator serializes validation, the physical log write and the index
// update per stream, so two appends to the same stream never both succeed on
// the same base version while appends to different streams run in parallel.
//
//	c, err := commit.New(commit.Options{Log: log})
//	res, err := c.Append(ctx, "acct-1", es.NoStreamYet(), events)
//	switch {
//	case err != nil && es.IsRetryable(err):
//		// nothing was written, try again
//	case res.Succeeded():
//		// committed as [res.StartEventNumber, res.EndEventNumber]
//	default:
//		// res.Err() is one of the es sentinel errors
//	}
package commit
