package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Memory(t *testing.T) {
	type tombstone struct {
		Stream      string
		LastVersion int64
	}
	s := NewMemStore()

	_, err := Get[tombstone](t.Context(), s, "tomb.a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put(t.Context(), s, Key("tomb", "a"), tombstone{Stream: "a", LastVersion: 3}))
	require.NoError(t, Put(t.Context(), s, Key("tomb", "b"), tombstone{Stream: "b", LastVersion: -1}))
	require.NoError(t, Put(t.Context(), s, Key("other", "c"), tombstone{}))

	loaded, err := Get[tombstone](t.Context(), s, "tomb.a")
	require.NoError(t, err)
	require.Equal(t, tombstone{Stream: "a", LastVersion: 3}, loaded)

	keys, err := s.Keys(t.Context(), "tomb.")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tomb.a", "tomb.b"}, keys)

	require.NoError(t, s.Delete(t.Context(), "tomb.a"))
	_, err = Get[tombstone](t.Context(), s, "tomb.a")
	require.ErrorIs(t, err, ErrNotFound)
}
