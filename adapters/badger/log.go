// Package badger provides an embedded eventlog.Log on BadgerDB.
//
// Layout:
//
//	r/<pos>                     committed record (JSON)
//	s/<len><stream id><number>  log position of an event
//	h/<stream id>               last event number of a stream
//	m/pos                       last assigned position
//
// All integers are big endian so that keys sort numerically.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

// Config holds configuration for the database behind a Log.
type Config struct {
	// Path is the directory for the database files. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in memory. For tests.
	InMemory bool
	// SyncWrites fsyncs every append before it returns.
	SyncWrites bool
	// Logger receives BadgerDB's own logging; nil disables it.
	Logger *slog.Logger
}

func InMemoryConfig() Config { return Config{InMemory: true} }

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Log is safe for concurrent use. Appends are serialized so that positions
// follow commit order.
type Log struct {
	db *badger.DB
	mu sync.Mutex
}

func Open(cfg Config) (*Log, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("log", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

var posCounterKey = []byte("m/pos")

func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func recordKey(pos es.LogPosition) []byte { return append([]byte("r/"), u64(uint64(pos))...) }

func headKey(streamID string) []byte { return append([]byte("h/"), streamID...) }

func eventKey(streamID string, n int64) []byte {
	k := make([]byte, 0, 2+4+len(streamID)+8)
	k = append(k, "s/"...)
	k = binary.BigEndian.AppendUint32(k, uint32(len(streamID)))
	k = append(k, streamID...)
	return binary.BigEndian.AppendUint64(k, uint64(n))
}

func getU64(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("key %q: bad value length %d", key, len(val))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err == nil, err
}

func lastEventNumber(txn *badger.Txn, streamID string) (int64, error) {
	v, ok, err := getU64(txn, headKey(streamID))
	if err != nil || !ok {
		return -1, err
	}
	return int64(v), nil
}

func (l *Log) Append(ctx context.Context, streamID string, first int64, events []es.Event) ([]es.LogPosition, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make([]es.LogPosition, len(events))
	err := l.db.Update(func(txn *badger.Txn) error {
		last, err := lastEventNumber(txn, streamID)
		if err != nil {
			return err
		}
		if last+1 != first {
			return fmt.Errorf("%w: stream %s has %d events, append at %d", es.ErrConcurrencyConflict, streamID, last+1, first)
		}

		pos, _, err := getU64(txn, posCounterKey)
		if err != nil {
			return err
		}

		for i, e := range events {
			pos++
			n := first + int64(i)
			positions[i] = es.LogPosition(pos)

			data, err := json.Marshal(es.Record(streamID, n, positions[i], e))
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(positions[i]), data); err != nil {
				return err
			}
			if err := txn.Set(eventKey(streamID, n), u64(pos)); err != nil {
				return err
			}
		}

		if err := txn.Set(headKey(streamID), u64(uint64(first+int64(len(events))-1))); err != nil {
			return err
		}
		return txn.Set(posCounterKey, u64(pos))
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("%w: %w", es.ErrConcurrencyConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func (l *Log) Read(_ context.Context, pos es.LogPosition) (rec es.EventRecord, err error) {
	err = l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(pos))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %d", eventlog.ErrPositionNotFound, pos)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	})
	return rec, err
}

func (l *Log) ReadEventID(ctx context.Context, pos es.LogPosition) (string, error) {
	rec, err := l.Read(ctx, pos)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (l *Log) LastEventNumber(_ context.Context, streamID string) (last int64, err error) {
	err = l.db.View(func(txn *badger.Txn) error {
		last, err = lastEventNumber(txn, streamID)
		return err
	})
	return last, err
}

func (l *Log) PositionOf(_ context.Context, streamID string, number int64) (pos es.LogPosition, err error) {
	if number < 0 {
		return 0, fmt.Errorf("%w: %s@%d", eventlog.ErrEventNotFound, streamID, number)
	}
	err = l.db.View(func(txn *badger.Txn) error {
		v, ok, err := getU64(txn, eventKey(streamID, number))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s@%d", eventlog.ErrEventNotFound, streamID, number)
		}
		pos = es.LogPosition(v)
		return nil
	})
	return pos, err
}

// Records returns the records of streamID in event-number order.
func (l *Log) Records(ctx context.Context, streamID string) ([]es.EventRecord, error) {
	var out []es.EventRecord
	prefix := eventKey(streamID, 0)[:2+4+len(streamID)]
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var pos uint64
			if err := it.Item().Value(func(val []byte) error {
				pos = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
			item, err := txn.Get(recordKey(es.LogPosition(pos)))
			if err != nil {
				return err
			}
			var rec es.EventRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return ctx.Err()
	})
	return out, err
}

var (
	_ eventlog.Log          = (*Log)(nil)
	_ eventlog.Reader       = (*Log)(nil)
	_ eventlog.RecordReader = (*Log)(nil)
)
