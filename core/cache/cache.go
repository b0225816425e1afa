package cache

import "time"

// Cache maps string keys to values. Implementations are safe for concurrent
// use.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

type PutOptions struct {
	// TTL of zero keeps the entry until it is evicted.
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

// Typed is a view of a Cache for one key and value type. K is mapped to the
// underlying string key by the function given to NewTyped, so several views
// can share one Cache as long as their keys do not collide.
type Typed[K any, V any] struct {
	c   Cache
	key func(K) string
}

func NewTyped[K any, V any](c Cache, key func(K) string) *Typed[K, V] {
	return &Typed[K, V]{c: c, key: key}
}

// Get reports a miss when the stored value is not a V.
func (t *Typed[K, V]) Get(k K) (V, bool) {
	var zero V
	v, ok := t.c.Get(t.key(k))
	if !ok {
		return zero, false
	}
	out, ok := v.(V)
	if !ok {
		return zero, false
	}
	return out, true
}

func (t *Typed[K, V]) Put(k K, v V, opts ...PutOption) { t.c.Put(t.key(k), v, opts...) }

func (t *Typed[K, V]) Delete(k K) { t.c.Delete(t.key(k)) }
