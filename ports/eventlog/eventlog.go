// Package eventlog is the port to the durable log that physically stores
// event records. The commit core only writes through Log and only reads
// identifiers and positions back; everything else about storage belongs to
// the adapter.
package eventlog

import (
	"context"
	"errors"

	"github.com/codewandler/eventstore-go/core/es"
)

var (
	ErrPositionNotFound = errors.New("log position not found")
	ErrEventNotFound    = errors.New("event not found")
)

type (
	// Log is the write path plus the identifier lookup used for idempotency.
	Log interface {
		// Append durably writes events for streamID, the first one at event
		// number first. It returns one position per event, in order. On
		// error nothing may have become visible.
		Append(ctx context.Context, streamID string, first int64, events []es.Event) ([]es.LogPosition, error)
		// ReadEventID returns the client identifier stored at pos.
		ReadEventID(ctx context.Context, pos es.LogPosition) (string, error)
	}

	// Reader lets the index rebuild itself from the log. Optional.
	Reader interface {
		// LastEventNumber returns the highest event number of streamID, -1 if none.
		LastEventNumber(ctx context.Context, streamID string) (int64, error)
		// PositionOf returns ErrEventNotFound when the event does not exist.
		PositionOf(ctx context.Context, streamID string, number int64) (es.LogPosition, error)
	}

	// RecordReader is the read path used by consumers of committed events.
	RecordReader interface {
		Read(ctx context.Context, pos es.LogPosition) (es.EventRecord, error)
	}
)
