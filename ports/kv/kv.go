// Package kv is the small key-value port the core uses for state that does
// not belong in the event log, such as stream tombstones.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
)

type Entry struct {
	Data []byte
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry) error
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
	// Keys lists all keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

func Put[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, Entry{Data: data})
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	err = json.Unmarshal(entry.Data, &out)
	return
}

// Key joins parts with '.', the separator NATS KV accepts in keys.
func Key(parts ...string) string { return strings.Join(parts, ".") }
