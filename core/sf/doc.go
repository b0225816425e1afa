// Package sf deduplicates concurrent calls that share a key.
//
// The stream index uses it when several validators miss the in-memory tail
// for the same event number at once: only one of them reads the log, the
// others wait and share the position it found.
//
//	positions := sf.New[es.LogPosition]()
//	pos, err := positions.Do("acct-1/42", func() (es.LogPosition, error) {
//	    return reader.PositionOf(ctx, "acct-1", 42)
//	})
package sf
