// Package sqlstore provides an eventlog.Log on database/sql, for SQLite,
// PostgreSQL and MySQL. A unique constraint on (stream_id, event_number) rejects
// conflicting appends from writers that share the database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

type Config struct {
	Dialect Dialect
	// DSN is the data source name passed to sql.Open.
	DSN string
	// Table defaults to "events".
	Table  string
	Logger *slog.Logger
}

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	log     *slog.Logger

	qLast, qInsert, qRead, qPosition, qRecords string
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialect.Driver == "" {
		return nil, errors.New("dialect is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("DSN is required")
	}
	if cfg.Table == "" {
		cfg.Table = "events"
	}
	if !validTable.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open(cfg.Dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect.Name, err)
	}
	if cfg.Dialect.Name == SQLite.Name {
		// one writer at a time; avoids SQLITE_BUSY under concurrent appends
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Dialect.Name, err)
	}

	s := NewStore(db, cfg.Dialect, cfg.Table, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("sql log ready")
	return s, nil
}

// NewStore wraps an open database. Call Migrate before first use.
func NewStore(db *sql.DB, dialect Dialect, table string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	r := dialect.rebind
	insert := fmt.Sprintf(`
		INSERT INTO %s (stream_id, event_number, event_id, event_type, occurred_at, data, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, table)
	if dialect.returning {
		insert += " RETURNING position"
	}
	return &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		log:     log.With(slog.String("log", "sql"), slog.String("dialect", dialect.Name), slog.String("table", table)),

		qLast:   r(fmt.Sprintf(`SELECT COALESCE(MAX(event_number), -1) FROM %s WHERE stream_id = ?`, table)),
		qInsert: r(insert),
		qRead: r(fmt.Sprintf(`
			SELECT stream_id, event_number, event_id, position, event_type, occurred_at, data, metadata
			FROM %s WHERE position = ?`, table)),
		qPosition: r(fmt.Sprintf(`SELECT position FROM %s WHERE stream_id = ? AND event_number = ?`, table)),
		qRecords: r(fmt.Sprintf(`
			SELECT stream_id, event_number, event_id, position, event_type, occurred_at, data, metadata
			FROM %s WHERE stream_id = ? ORDER BY event_number`, table)),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.schema, s.table)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, streamID string, first int64, events []es.Event) (_ []es.LogPosition, err error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last int64
	if err = tx.QueryRowContext(ctx, s.qLast, streamID).Scan(&last); err != nil {
		return nil, fmt.Errorf("read stream head: %w", err)
	}
	if last+1 != first {
		return nil, fmt.Errorf("%w: stream %s has %d events, append at %d", es.ErrConcurrencyConflict, streamID, last+1, first)
	}

	positions := make([]es.LogPosition, len(events))
	for i, e := range events {
		var pos int64
		pos, err = s.insert(ctx, tx, streamID, first+int64(i), e)
		if err != nil {
			if s.dialect.isUnique(err) {
				return nil, fmt.Errorf("%w: stream %s event %d exists", es.ErrConcurrencyConflict, streamID, first+int64(i))
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}
		positions[i] = es.LogPosition(pos)
	}

	if err = tx.Commit(); err != nil {
		if s.dialect.isUnique(err) {
			return nil, fmt.Errorf("%w: %w", es.ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return positions, nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, streamID string, n int64, e es.Event) (pos int64, err error) {
	args := []any{streamID, n, e.ID, e.Type, e.OccurredAt.UTC(), []byte(e.Data), []byte(e.Metadata)}
	if s.dialect.returning {
		err = tx.QueryRowContext(ctx, s.qInsert, args...).Scan(&pos)
		return pos, err
	}
	res, err := tx.ExecContext(ctx, s.qInsert, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (es.EventRecord, error) {
	var (
		r              es.EventRecord
		pos            int64
		data, metadata []byte
	)
	if err := row.Scan(&r.StreamID, &r.EventNumber, &r.ID, &pos, &r.Type, &r.OccurredAt, &data, &metadata); err != nil {
		return r, err
	}
	r.Position = es.LogPosition(pos)
	if len(data) > 0 {
		r.Data = data
	}
	if len(metadata) > 0 {
		r.Metadata = metadata
	}
	return r, nil
}

func (s *Store) Read(ctx context.Context, pos es.LogPosition) (es.EventRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.qRead, int64(pos)))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %d", eventlog.ErrPositionNotFound, pos)
	}
	return r, err
}

func (s *Store) ReadEventID(ctx context.Context, pos es.LogPosition) (string, error) {
	r, err := s.Read(ctx, pos)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *Store) LastEventNumber(ctx context.Context, streamID string) (last int64, err error) {
	err = s.db.QueryRowContext(ctx, s.qLast, streamID).Scan(&last)
	return last, err
}

func (s *Store) PositionOf(ctx context.Context, streamID string, number int64) (es.LogPosition, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, s.qPosition, streamID, number).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s@%d", eventlog.ErrEventNotFound, streamID, number)
	}
	return es.LogPosition(pos), err
}

// Records returns the records of streamID in event-number order.
func (s *Store) Records(ctx context.Context, streamID string) ([]es.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.qRecords, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []es.EventRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ eventlog.Log          = (*Store)(nil)
	_ eventlog.Reader       = (*Store)(nil)
	_ eventlog.RecordReader = (*Store)(nil)
)
