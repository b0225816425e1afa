package eventlog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/codewandler/eventstore-go/core/es"
)

// Faulty wraps a log and injects failures. Used by tests.
type Faulty struct {
	Log

	mu        sync.Mutex
	appendErr error
	readErr   error
	appends   atomic.Int64
}

func NewFaulty(l Log) *Faulty { return &Faulty{Log: l} }

// FailAppends makes every following Append fail with err; nil heals the log.
func (f *Faulty) FailAppends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendErr = err
}

// FailReads makes every following ReadEventID fail with err; nil heals the log.
func (f *Faulty) FailReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// Appends counts Append calls that reached the wrapped log.
func (f *Faulty) Appends() int64 { return f.appends.Load() }

func (f *Faulty) Append(ctx context.Context, streamID string, first int64, events []es.Event) ([]es.LogPosition, error) {
	f.mu.Lock()
	err := f.appendErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.appends.Add(1)
	return f.Log.Append(ctx, streamID, first, events)
}

func (f *Faulty) ReadEventID(ctx context.Context, pos es.LogPosition) (string, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.Log.ReadEventID(ctx, pos)
}
