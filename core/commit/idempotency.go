package commit

import (
	"context"

	"github.com/codewandler/eventstore-go/core/es"
)

// Match is the outcome of comparing a batch with committed events.
type Match uint8

const (
	// Disjoint: the batch does not overlap committed events.
	Disjoint Match = iota
	// FullMatch: every event of the batch is committed with the same id.
	FullMatch
	// PartialMatch: the overlapping prefix matches but the batch extends past
	// the end of the stream.
	PartialMatch
	// Mismatch: an overlapping event was committed with a different id.
	Mismatch
)

func (m Match) String() string {
	switch m {
	case Disjoint:
		return "Disjoint"
	case FullMatch:
		return "FullMatch"
	case PartialMatch:
		return "PartialMatch"
	case Mismatch:
		return "Mismatch"
	default:
		return "Unknown"
	}
}

// Positions resolves event numbers to log positions. *index.Index implements it.
type Positions interface {
	PositionOf(ctx context.Context, streamID string, n int64) (es.LogPosition, error)
}

// IDReader reads the client identifier stored at a log position.
// eventlog.Log implements it.
type IDReader interface {
	ReadEventID(ctx context.Context, pos es.LogPosition) (string, error)
}

// Comparison is the result of Checker.Compare.
type Comparison struct {
	Match Match
	// Positions of the matching overlap, in event-number order.
	Positions []es.LogPosition
	// MismatchAt is the first event number with a differing id, -1 otherwise.
	MismatchAt int64
	// Committed is the id found at MismatchAt.
	Committed string
}

// Checker compares candidate identifiers with committed ones.
type Checker struct {
	positions Positions
	ids       IDReader
}

func NewChecker(positions Positions, ids IDReader) *Checker {
	return &Checker{positions: positions, ids: ids}
}

// Compare checks ids, proposed for event numbers first..first+len(ids)-1,
// against the events committed up to current. Only identifiers are compared,
// in submission order. Lookup failures are returned as transient errors.
func (c *Checker) Compare(ctx context.Context, streamID string, first int64, ids []string, current es.Version) (Comparison, error) {
	out := Comparison{Match: Disjoint, MismatchAt: -1}
	if len(ids) == 0 || first < 0 || first > int64(current) {
		return out, nil
	}

	last := min(first+int64(len(ids))-1, int64(current))
	out.Positions = make([]es.LogPosition, 0, last-first+1)

	for n := first; n <= last; n++ {
		pos, err := c.positions.PositionOf(ctx, streamID, n)
		if err != nil {
			return Comparison{}, es.Transient("resolve position", err)
		}
		committed, err := c.ids.ReadEventID(ctx, pos)
		if err != nil {
			return Comparison{}, es.Transient("read event id", err)
		}
		if committed != ids[n-first] {
			return Comparison{Match: Mismatch, MismatchAt: n, Committed: committed}, nil
		}
		out.Positions = append(out.Positions, pos)
	}

	if first+int64(len(ids))-1 > int64(current) {
		out.Match = PartialMatch
	} else {
		out.Match = FullMatch
	}
	return out, nil
}
