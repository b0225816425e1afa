package index

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/ports/kv"
)

// Tombstones records deleted streams durably.
type Tombstones interface {
	Mark(ctx context.Context, streamID string, last es.Version) error
	IsDeleted(ctx context.Context, streamID string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

const tombstonePrefix = "tombstone"

type tombstone struct {
	StreamID    string     `json:"stream_id"`
	LastVersion es.Version `json:"last_version"`
	DeletedAt   time.Time  `json:"deleted_at"`
}

// KVTombstones stores one kv entry per deleted stream.
type KVTombstones struct {
	store kv.Store
}

func NewKVTombstones(store kv.Store) *KVTombstones {
	return &KVTombstones{store: store}
}

// stream ids are arbitrary strings; kv keys are not.
func tombstoneKey(streamID string) string {
	return kv.Key(tombstonePrefix, base64.RawURLEncoding.EncodeToString([]byte(streamID)))
}

func (t *KVTombstones) Mark(ctx context.Context, streamID string, last es.Version) error {
	return kv.Put(ctx, t.store, tombstoneKey(streamID), tombstone{
		StreamID:    streamID,
		LastVersion: last,
		DeletedAt:   time.Now(),
	})
}

func (t *KVTombstones) IsDeleted(ctx context.Context, streamID string) (bool, error) {
	_, err := t.store.Get(ctx, tombstoneKey(streamID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("read tombstone %s: %w", streamID, err)
}

func (t *KVTombstones) List(ctx context.Context) ([]string, error) {
	keys, err := t.store.Keys(ctx, tombstonePrefix+".")
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(k, tombstonePrefix+"."))
		if err != nil {
			return nil, fmt.Errorf("decode tombstone key %q: %w", k, err)
		}
		out = append(out, string(raw))
	}
	return out, nil
}

var _ Tombstones = (*KVTombstones)(nil)
