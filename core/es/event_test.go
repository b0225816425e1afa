package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type accountOpened struct {
	Owner string `json:"owner"`
}

func TestNewEvent(t *testing.T) {
	e, err := NewEvent("AccountOpened", accountOpened{Owner: "ada"})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.False(t, e.OccurredAt.IsZero())
	require.JSONEq(t, `{"owner":"ada"}`, string(e.Data))
	require.NoError(t, e.Validate())

	e2, err := NewEvent("AccountOpened", accountOpened{})
	require.NoError(t, err)
	require.NotEqual(t, e.ID, e2.ID)

	_, err = NewEvent("Bad", make(chan int))
	require.Error(t, err)
}

func TestEvent_Validate(t *testing.T) {
	require.Error(t, Event{Type: "x"}.Validate())
	require.Error(t, Event{ID: "x"}.Validate())
	require.NoError(t, Event{ID: "x", Type: "y"}.Validate())
}

func TestRecordAndIDs(t *testing.T) {
	events := []Event{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}}
	require.Equal(t, []string{"a", "b"}, IDs(events))

	r := Record("s-1", 4, 99, events[1])
	require.Equal(t, "s-1", r.StreamID)
	require.Equal(t, int64(4), r.EventNumber)
	require.Equal(t, LogPosition(99), r.Position)
	require.Equal(t, "b", r.ID)
}
