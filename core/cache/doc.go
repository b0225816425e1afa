// Package cache provides a small string-keyed cache with LRU eviction and
// optional per-entry TTL.
//
// [LRU] is owned by a single goroutine; callers talk to it over channels.
// [NewNop] returns a cache that never stores anything.
//
// [Typed] gives a cache a key and value type. The stream index keeps log
// positions of events that fell out of a stream's in-memory tail this way:
//
//	positions := cache.NewTyped[eventRef, es.LogPosition](lru, eventRef.String)
//	positions.Put(ref, pos, cache.WithTTL(10*time.Minute))
//	if pos, ok := positions.Get(ref); ok {
//	    // served without touching the log
//	}
//
// Expired entries are dropped lazily on access.
package cache
