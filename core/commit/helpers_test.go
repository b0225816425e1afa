package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

func batch(ids ...string) []es.Event {
	out := make([]es.Event, len(ids))
	for i, id := range ids {
		out[i] = es.Event{ID: id, Type: "Deposited"}
	}
	return out
}

// committed writes ids to the log and the index, bypassing validation.
func committed(t *testing.T, l *eventlog.MemLog, x *index.Index, stream string, ids ...string) {
	t.Helper()
	first := int64(x.CurrentVersion(stream)) + 1
	pos, err := l.Append(t.Context(), stream, first, batch(ids...))
	require.NoError(t, err)
	require.NoError(t, x.RecordAppend(stream, first, first+int64(len(ids))-1, pos))
}
