package index

import (
	"log/slog"

	"github.com/codewandler/eventstore-go/core/cache"
)

const (
	defaultTailSize  = 256
	defaultMaxRange  = 1024
	defaultCacheSize = 4096
)

// Option configures an Index.
type Option func(*config)

type config struct {
	tailSize   int
	maxRange   int
	loader     Loader
	tombstones Tombstones
	cache      cache.Cache
	metrics    Metrics
	log        *slog.Logger
}

// WithTailSize bounds how many recent entries each stream keeps in memory
// (default: 256). It only takes effect together with WithLoader; without a
// loader the index is the only record of positions and never evicts.
func WithTailSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.tailSize = n
		}
	}
}

// WithMaxRange bounds the number of entries returned by Range (default: 1024).
func WithMaxRange(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRange = n
		}
	}
}

// WithLoader lets the index warm cold streams and backfill evicted entries
// from the log.
func WithLoader(l Loader) Option { return func(c *config) { c.loader = l } }

// WithTombstones persists deletions outside the index.
func WithTombstones(t Tombstones) Option { return func(c *config) { c.tombstones = t } }

// WithCache overrides the cache for backfilled positions. Defaults to an
// LRU of 4096 entries when a loader is set.
func WithCache(ca cache.Cache) Option { return func(c *config) { c.cache = ca } }

func WithMetrics(m Metrics) Option { return func(c *config) { c.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }
