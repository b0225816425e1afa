package es

import (
	"fmt"
	"log/slog"
	"math"
)

// Version is the event number of the last committed event of a stream.
// Event numbers are zero-based, so a stream holding one event is at version 0.
type Version int64

const (
	// NoStream is the version of a stream that has never been written.
	NoStream Version = -1
	// DeletedVersion is reported for tombstoned streams.
	DeletedVersion Version = math.MaxInt64
)

func (v Version) Int64() int64                           { return int64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }

// rawAny is the wire value clients use for "any version".
const rawAny = -2

// ExpectedVersion is the optimistic-concurrency token supplied with an append.
type ExpectedVersion struct {
	v   Version
	any bool
}

// Any skips the version check.
func Any() ExpectedVersion { return ExpectedVersion{any: true} }

// NoStreamYet expects the stream not to exist.
func NoStreamYet() ExpectedVersion { return ExpectedVersion{v: NoStream} }

// Exact expects the stream to be at exactly v.
func Exact(v Version) ExpectedVersion {
	if v < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", v))
	}
	return ExpectedVersion{v: v}
}

// Expect converts a raw wire value. -2 means any, -1 means no stream.
// Values below -2 are kept as-is and rejected by validation.
func Expect(raw int64) ExpectedVersion {
	if raw == rawAny {
		return Any()
	}
	return ExpectedVersion{v: Version(raw)}
}

func (ev ExpectedVersion) IsAny() bool      { return ev.any }
func (ev ExpectedVersion) IsNoStream() bool { return !ev.any && ev.v == NoStream }

// Valid reports whether the token is Any or a version >= -1.
func (ev ExpectedVersion) Valid() bool { return ev.any || ev.v >= NoStream }

// Version returns the expected version. It is meaningless for Any.
func (ev ExpectedVersion) Version() Version { return ev.v }

func (ev ExpectedVersion) String() string {
	switch {
	case ev.any:
		return "Any"
	case ev.v == NoStream:
		return "NoStream"
	default:
		return fmt.Sprintf("Exact(%d)", ev.v)
	}
}

func (ev ExpectedVersion) SlogAttr() slog.Attr { return slog.String("expected", ev.String()) }
