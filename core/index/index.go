// Package index maps stream ids to their current version and to the log
// positions of their events.
//
// The index is a cache over the log, not the source of truth. Each stream
// has an immutable Head published through an atomic pointer: writers build a
// new head and swap it in, so readers always see either the state before an
// append or the state after it, never a partial range.
//
// Writes to a single stream must be serialized by the caller (the commit
// coordinator does this); RecordAppend still refuses any range that does not
// extend the stream contiguously.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/codewandler/eventstore-go/core/cache"
	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/sf"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

var (
	ErrNotFound      = errors.New("event not indexed")
	ErrRangeConflict = errors.New("index range conflict")
)

// Loader is the part of the log read path the index needs.
// eventlog.Reader satisfies it.
type Loader interface {
	LastEventNumber(ctx context.Context, streamID string) (int64, error)
	PositionOf(ctx context.Context, streamID string, number int64) (es.LogPosition, error)
}

// Entry is one event number to log position mapping.
type Entry struct {
	EventNumber int64
	Position    es.LogPosition
}

// Head is the published state of one stream.
type Head struct {
	// Version is the last committed version, kept after deletion.
	Version es.Version
	Deleted bool
	// Tail holds the most recent entries, contiguous and ending at Version.
	Tail []Entry
}

func (h *Head) tailStart() int64 {
	if len(h.Tail) == 0 {
		return int64(h.Version) + 1
	}
	return h.Tail[0].EventNumber
}

// eventRef names one event of one stream.
type eventRef struct {
	stream string
	n      int64
}

func (r eventRef) String() string { return r.stream + "/" + strconv.FormatInt(r.n, 10) }

type slot struct {
	head atomic.Pointer[Head]
}

// Index is safe for concurrent use.
type Index struct {
	streams    sync.Map // string -> *slot
	tailSize   int
	maxRange   int
	loader     Loader
	tombstones Tombstones
	positions  *cache.Typed[eventRef, es.LogPosition]
	ownedLRU   *cache.LRU
	flights    *sf.Singleflight[es.LogPosition]
	metrics    Metrics
	log        *slog.Logger
}

func New(opts ...Option) *Index {
	cfg := &config{
		tailSize: defaultTailSize,
		maxRange: defaultMaxRange,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	idx := &Index{
		tailSize:   cfg.tailSize,
		maxRange:   cfg.maxRange,
		loader:     cfg.loader,
		tombstones: cfg.tombstones,
		flights:    sf.New[es.LogPosition](),
		metrics:    cfg.metrics,
		log:        cfg.log,
	}
	if idx.metrics == nil {
		idx.metrics = NopMetrics()
	}
	if idx.log == nil {
		idx.log = slog.Default()
	}
	idx.log = idx.log.With(slog.String("component", "index"))

	c := cfg.cache
	switch {
	case c != nil:
	case idx.loader != nil:
		idx.ownedLRU = cache.NewLRU(cache.LRUOpts{Size: defaultCacheSize})
		c = idx.ownedLRU
	default:
		c = cache.NewNop()
	}
	idx.positions = cache.NewTyped[eventRef, es.LogPosition](c, eventRef.String)

	return idx
}

// Close releases the internal cache, if the index created one.
func (x *Index) Close() {
	if x.ownedLRU != nil {
		x.ownedLRU.Close()
	}
}

func (x *Index) slot(streamID string) *slot {
	if s, ok := x.streams.Load(streamID); ok {
		return s.(*slot)
	}
	s, _ := x.streams.LoadOrStore(streamID, &slot{})
	return s.(*slot)
}

func (x *Index) load(streamID string) *Head {
	s, ok := x.streams.Load(streamID)
	if !ok {
		return nil
	}
	return s.(*slot).head.Load()
}

// CurrentVersion returns es.NoStream for unknown streams and
// es.DeletedVersion for tombstoned ones.
func (x *Index) CurrentVersion(streamID string) es.Version {
	h := x.load(streamID)
	switch {
	case h == nil:
		return es.NoStream
	case h.Deleted:
		return es.DeletedVersion
	default:
		return h.Version
	}
}

// IsDeleted reports whether streamID carries a tombstone.
func (x *Index) IsDeleted(streamID string) bool {
	h := x.load(streamID)
	return h != nil && h.Deleted
}

// Head returns a copy of the stream's head.
func (x *Index) Head(streamID string) (Head, bool) {
	h := x.load(streamID)
	if h == nil {
		return Head{Version: es.NoStream}, false
	}
	out := *h
	out.Tail = append([]Entry(nil), h.Tail...)
	return out, true
}

// Streams returns the number of streams with a published head.
func (x *Index) Streams() int {
	n := 0
	x.streams.Range(func(_, v any) bool {
		if v.(*slot).head.Load() != nil {
			n++
		}
		return true
	})
	return n
}

// PositionOf returns the log position of event n of streamID.
func (x *Index) PositionOf(ctx context.Context, streamID string, n int64) (es.LogPosition, error) {
	h := x.load(streamID)
	if h == nil || n < 0 || n > int64(h.Version) {
		return 0, fmt.Errorf("%w: %s@%d", ErrNotFound, streamID, n)
	}
	if start := h.tailStart(); n >= start {
		x.metrics.PositionLookup("tail")
		return h.Tail[n-start].Position, nil
	}
	if x.loader == nil {
		return 0, fmt.Errorf("%w: %s@%d evicted", ErrNotFound, streamID, n)
	}

	ref := eventRef{stream: streamID, n: n}
	if pos, ok := x.positions.Get(ref); ok {
		x.metrics.PositionLookup("cache")
		return pos, nil
	}

	x.metrics.PositionLookup("log")
	pos, err := x.flights.Do(ref.String(), func() (es.LogPosition, error) {
		return x.loader.PositionOf(ctx, streamID, n)
	})
	if err != nil {
		if errors.Is(err, eventlog.ErrEventNotFound) {
			return 0, fmt.Errorf("%w: %s@%d: %w", ErrNotFound, streamID, n, err)
		}
		return 0, fmt.Errorf("load position %s@%d: %w", streamID, n, err)
	}
	x.positions.Put(ref, pos)
	return pos, nil
}

// Range returns entries for event numbers [from, to], clamped to the
// committed range and to the configured maximum length.
func (x *Index) Range(ctx context.Context, streamID string, from, to int64) ([]Entry, error) {
	h := x.load(streamID)
	if h == nil {
		return nil, nil
	}
	from = max(from, 0)
	to = min(to, int64(h.Version))
	if to < from {
		return nil, nil
	}
	if to-from+1 > int64(x.maxRange) {
		to = from + int64(x.maxRange) - 1
	}

	out := make([]Entry, 0, to-from+1)
	for n := from; n <= to; n++ {
		pos, err := x.PositionOf(ctx, streamID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{EventNumber: n, Position: pos})
	}
	return out, nil
}

// RecordAppend publishes positions for event numbers [start, end] and moves
// the stream to version end. start must be exactly current+1.
func (x *Index) RecordAppend(streamID string, start, end int64, positions []es.LogPosition) error {
	if end < start || int64(len(positions)) != end-start+1 {
		return fmt.Errorf("%w: %d positions for range [%d, %d]", ErrRangeConflict, len(positions), start, end)
	}

	s := x.slot(streamID)
	for {
		old := s.head.Load()
		cur := es.NoStream
		var tail []Entry
		if old != nil {
			if old.Deleted {
				return fmt.Errorf("%w: stream %s is deleted", ErrRangeConflict, streamID)
			}
			cur = old.Version
			tail = old.Tail
		}
		if start != int64(cur)+1 {
			return fmt.Errorf("%w: stream %s at %d, append starts at %d", ErrRangeConflict, streamID, cur, start)
		}

		next := &Head{Version: es.Version(end), Tail: x.extendTail(tail, start, positions)}
		if s.head.CompareAndSwap(old, next) {
			return nil
		}
	}
}

func (x *Index) extendTail(tail []Entry, start int64, positions []es.LogPosition) []Entry {
	keep := len(tail) + len(positions)
	if x.loader != nil && keep > x.tailSize {
		keep = x.tailSize
	}
	out := make([]Entry, 0, keep)
	if drop := len(tail) + len(positions) - keep; drop < len(tail) {
		out = append(out, tail[drop:]...)
	}
	for i, pos := range positions {
		out = append(out, Entry{EventNumber: start + int64(i), Position: pos})
	}
	return out[len(out)-keep:]
}

// MarkDeleted tombstones streamID. The tombstone is persisted first when a
// Tombstones store is configured.
func (x *Index) MarkDeleted(ctx context.Context, streamID string) error {
	s := x.slot(streamID)
	last := es.NoStream
	if h := s.head.Load(); h != nil {
		if h.Deleted {
			return nil
		}
		last = h.Version
	}

	if x.tombstones != nil {
		if err := x.tombstones.Mark(ctx, streamID, last); err != nil {
			return fmt.Errorf("persist tombstone %s: %w", streamID, err)
		}
	}

	for {
		old := s.head.Load()
		next := &Head{Version: es.NoStream, Deleted: true}
		if old != nil {
			next.Version = old.Version
			next.Tail = old.Tail
		}
		if s.head.CompareAndSwap(old, next) {
			x.log.Debug("stream deleted", slog.String("stream", streamID), next.Version.SlogAttrWithKey("last_version"))
			return nil
		}
	}
}

// Warm loads the head of a cold stream from the log and the tombstone store.
// Streams that already have a head are left untouched.
func (x *Index) Warm(ctx context.Context, streamID string) error {
	if x.loader == nil && x.tombstones == nil {
		return nil
	}
	s := x.slot(streamID)
	if s.head.Load() != nil {
		return nil
	}

	defer x.metrics.WarmDuration().ObserveDuration()

	h := &Head{Version: es.NoStream}
	if x.loader != nil {
		last, err := x.loader.LastEventNumber(ctx, streamID)
		if err != nil {
			return fmt.Errorf("load head %s: %w", streamID, err)
		}
		h.Version = es.Version(last)
	}
	if x.tombstones != nil {
		deleted, err := x.tombstones.IsDeleted(ctx, streamID)
		if err != nil {
			return err
		}
		h.Deleted = deleted
	}

	// a concurrent writer may have published a newer head meanwhile
	if s.head.CompareAndSwap(nil, h) {
		x.log.Debug("stream warmed", slog.String("stream", streamID), h.Version.SlogAttr(), slog.Bool("deleted", h.Deleted))
	}
	return nil
}

// CanRebuild reports whether Invalidate can reload heads from the log.
func (x *Index) CanRebuild() bool {
	return x.loader != nil
}

// Invalidate drops the head of streamID so the next Warm rebuilds it from
// the log. Without a loader the head is kept, since nothing could restore it.
func (x *Index) Invalidate(streamID string) {
	if x.loader == nil {
		x.log.Warn("stream head kept, index has no loader", slog.String("stream", streamID))
		return
	}
	if s, ok := x.streams.Load(streamID); ok {
		s.(*slot).head.Store(nil)
		x.log.Warn("stream head invalidated", slog.String("stream", streamID))
	}
}

// LoadTombstones marks every stream known to the tombstone store as deleted.
func (x *Index) LoadTombstones(ctx context.Context) error {
	if x.tombstones == nil {
		return nil
	}
	ids, err := x.tombstones.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s := x.slot(id)
		for {
			old := s.head.Load()
			if old != nil && old.Deleted {
				break
			}
			next := &Head{Version: es.NoStream, Deleted: true}
			if old != nil {
				next.Version = old.Version
				next.Tail = old.Tail
			}
			if s.head.CompareAndSwap(old, next) {
				break
			}
		}
	}
	x.log.Debug("tombstones loaded", slog.Int("count", len(ids)))
	return nil
}
