package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/eventstore-go/adapters/badger"
	"github.com/codewandler/eventstore-go/adapters/nats"
	"github.com/codewandler/eventstore-go/adapters/sqlstore"
	"github.com/codewandler/eventstore-go/ports/eventlog"
	"github.com/codewandler/eventstore-go/ports/kv"
)

// backend is the log and tombstone store a run writes to.
type backend struct {
	log    eventlog.Log
	kv     kv.Store
	closer func()
}

type logReader interface {
	eventlog.Log
	eventlog.Reader
}

func openBackend(ctx context.Context, cfg Config, log *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case "mem":
		return &backend{log: eventlog.NewMemLog(), kv: kv.NewMemStore(), closer: func() {}}, nil

	case "badger":
		bc := badger.InMemoryConfig()
		if cfg.Badger.Path != "" {
			bc = badger.Config{Path: cfg.Badger.Path}
		}
		bc.Logger = log
		l, err := badger.Open(bc)
		if err != nil {
			return nil, err
		}
		return &backend{log: l, kv: kv.NewMemStore(), closer: func() { _ = l.Close() }}, nil

	case "sql":
		d, err := sqlstore.DialectByName(cfg.SQL.Dialect)
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.Open(ctx, sqlstore.Config{Dialect: d, DSN: cfg.SQL.DSN, Table: cfg.SQL.Table, Logger: log})
		if err != nil {
			return nil, err
		}
		return &backend{log: s, kv: kv.NewMemStore(), closer: func() { _ = s.Close() }}, nil

	case "nats":
		connect := nats.ConnectDefault()
		if cfg.NATS.URL != "" {
			connect = nats.ConnectURL(cfg.NATS.URL)
		}
		connect = nats.ReuseConnection(connect)
		l, err := nats.NewLog(nats.LogConfig{Connect: connect, Log: log, Memory: cfg.NATS.Memory})
		if err != nil {
			return nil, err
		}
		store, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: "eventstore_tombstones", Memory: cfg.NATS.Memory})
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		return &backend{log: l, kv: store, closer: func() {
			store.Close()
			_ = l.Close()
		}}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

var (
	_ logReader = (*eventlog.MemLog)(nil)
	_ logReader = (*badger.Log)(nil)
	_ logReader = (*sqlstore.Store)(nil)
	_ logReader = (*nats.Log)(nil)
)
