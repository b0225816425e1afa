package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/codewandler/eventstore-go/core/es"
)

// MemLog keeps records in memory. Positions start at 1.
type MemLog struct {
	mu      sync.RWMutex
	records []es.EventRecord
	streams map[string][]es.LogPosition
}

func NewMemLog() *MemLog {
	return &MemLog{streams: map[string][]es.LogPosition{}}
}

func (m *MemLog) Append(_ context.Context, streamID string, first int64, events []es.Event) ([]es.LogPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[streamID]
	if first != int64(len(stream)) {
		return nil, fmt.Errorf("%w: stream %s has %d events, append at %d", es.ErrConcurrencyConflict, streamID, len(stream), first)
	}

	positions := make([]es.LogPosition, len(events))
	for i, e := range events {
		pos := es.LogPosition(len(m.records) + 1)
		m.records = append(m.records, es.Record(streamID, first+int64(i), pos, e))
		positions[i] = pos
	}
	m.streams[streamID] = append(stream, positions...)
	return positions, nil
}

func (m *MemLog) Read(_ context.Context, pos es.LogPosition) (es.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pos == 0 || int(pos) > len(m.records) {
		return es.EventRecord{}, fmt.Errorf("%w: %d", ErrPositionNotFound, pos)
	}
	return m.records[pos-1], nil
}

func (m *MemLog) ReadEventID(ctx context.Context, pos es.LogPosition) (string, error) {
	r, err := m.Read(ctx, pos)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (m *MemLog) LastEventNumber(_ context.Context, streamID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.streams[streamID])) - 1, nil
}

func (m *MemLog) PositionOf(_ context.Context, streamID string, number int64) (es.LogPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream := m.streams[streamID]
	if number < 0 || number >= int64(len(stream)) {
		return 0, fmt.Errorf("%w: %s@%d", ErrEventNotFound, streamID, number)
	}
	return stream[number], nil
}

// Records returns a copy of all records of streamID in event-number order.
func (m *MemLog) Records(streamID string) []es.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]es.EventRecord, 0, len(m.streams[streamID]))
	for _, pos := range m.streams[streamID] {
		out = append(out, m.records[pos-1])
	}
	return out
}

// Len returns the total number of records.
func (m *MemLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var (
	_ Log          = (*MemLog)(nil)
	_ Reader       = (*MemLog)(nil)
	_ RecordReader = (*MemLog)(nil)
)
