package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/ports/kv"
)

func TestKvStore(t *testing.T) {
	ctx := t.Context()
	store, err := NewKvStore(KvConfig{Bucket: "tombstones", Connect: NewTestContainer(t), Memory: true})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Put(ctx, store, "fruit.apple", 10))
	require.NoError(t, kv.Put(ctx, store, "fruit.pear", 3))
	require.NoError(t, kv.Put(ctx, store, "veg.leek", 1))

	v, err := kv.Get[int](ctx, store, "fruit.apple")
	require.NoError(t, err)
	require.Equal(t, 10, v)

	keys, err := store.Keys(ctx, "fruit.")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"fruit.apple", "fruit.pear"}, keys)

	require.NoError(t, store.Delete(ctx, "fruit.apple"))
	require.NoError(t, store.Delete(ctx, "fruit.apple"))
	_, err = store.Get(ctx, "fruit.apple")
	require.ErrorIs(t, err, kv.ErrNotFound)

	keys, err = store.Keys(ctx, "fruit.")
	require.NoError(t, err)
	require.Equal(t, []string{"fruit.pear"}, keys)
}

func TestKvStore_Tombstones(t *testing.T) {
	ctx := t.Context()
	store, err := NewKvStore(KvConfig{Bucket: "es_tombstones", Connect: NewTestContainer(t), Memory: true})
	require.NoError(t, err)
	defer store.Close()

	ts := index.NewKVTombstones(store)
	require.NoError(t, ts.Mark(ctx, "orders/42 with spaces", es.Version(3)))

	deleted, err := ts.IsDeleted(ctx, "orders/42 with spaces")
	require.NoError(t, err)
	require.True(t, deleted)

	ids, err := ts.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orders/42 with spaces"}, ids)
}
