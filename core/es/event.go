package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// LogPosition locates a durably committed record in the log.
// Positions are totally ordered by physical commit order.
type LogPosition uint64

// Event is a proposed event as submitted by a writer.
type Event struct {
	// ID is the client-supplied identifier. Retries of the same batch must
	// reuse the same IDs for idempotency detection to work.
	ID string `json:"id"`
	// StreamID is optional. When set it must match the target stream.
	StreamID string `json:"stream_id,omitempty"`
	// Type is the event type name.
	Type string `json:"type"`
	// OccurredAt is when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
	// Data contains the JSON-encoded event payload.
	Data json.RawMessage `json:"data,omitempty"`
	// Metadata contains additional JSON-encoded context.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is empty")
	}
	if e.Type == "" {
		return errors.New("event type is empty")
	}
	return nil
}

// EventRecord is a committed event as stored by the log.
type EventRecord struct {
	StreamID    string          `json:"stream_id"`
	EventNumber int64           `json:"event_number"`
	ID          string          `json:"id"`
	Position    LogPosition     `json:"position"`
	Type        string          `json:"type"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Record binds a proposed event to its stream slot and position.
func Record(streamID string, number int64, pos LogPosition, e Event) EventRecord {
	return EventRecord{
		StreamID:    streamID,
		EventNumber: number,
		ID:          e.ID,
		Position:    pos,
		Type:        e.Type,
		OccurredAt:  e.OccurredAt,
		Data:        e.Data,
		Metadata:    e.Metadata,
	}
}

// NewEvent encodes payload as JSON and assigns a fresh ID.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Event{
		ID:         gonanoid.Must(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Data:       data,
	}, nil
}

// IDs returns the event identifiers in submission order.
func IDs(events []Event) []string {
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	return ids
}
