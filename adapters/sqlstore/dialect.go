package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures what differs between the supported databases.
type Dialect struct {
	Name   string
	Driver string
	schema string
	// returning is set when INSERT ... RETURNING is supported; otherwise
	// the position is read with LastInsertId.
	returning bool
	// rebind rewrites '?' placeholders.
	rebind   func(q string) string
	isUnique func(err error) bool
}

var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite3",
	schema: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			position     INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id    TEXT    NOT NULL,
			event_number INTEGER NOT NULL,
			event_id     TEXT    NOT NULL,
			event_type   TEXT    NOT NULL,
			occurred_at  TIMESTAMP NOT NULL,
			data         BLOB,
			metadata     BLOB,
			UNIQUE (stream_id, event_number)
		);`,
	returning: true,
	rebind:    func(q string) string { return q },
	isUnique: func(err error) bool {
		var se sqlite3.Error
		if errors.As(err, &se) {
			return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
		}
		return false
	},
}

// Postgres draws positions from a sequence at insert time. Concurrent
// transactions on different streams may commit out of position order, so
// positions are ordered within a stream only.
var Postgres = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	schema: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			position     BIGSERIAL PRIMARY KEY,
			stream_id    TEXT        NOT NULL,
			event_number BIGINT      NOT NULL,
			event_id     TEXT        NOT NULL,
			event_type   TEXT        NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL,
			data         BYTEA,
			metadata     BYTEA,
			UNIQUE (stream_id, event_number)
		);`,
	returning: true,
	rebind: func(q string) string {
		var b strings.Builder
		n := 0
		for _, r := range q {
			if r == '?' {
				n++
				b.WriteString("$" + strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	},
	isUnique: func(err error) bool {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return pqErr.Code == "23505" // unique_violation
		}
		return false
	},
}

// MySQL needs parseTime=true in the DSN. Like Postgres, AUTO_INCREMENT
// positions are ordered within a stream, not by commit order across streams.
var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	schema: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			position     BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
			stream_id    VARCHAR(255) NOT NULL,
			event_number BIGINT       NOT NULL,
			event_id     VARCHAR(255) NOT NULL,
			event_type   VARCHAR(255) NOT NULL,
			occurred_at  DATETIME(6)  NOT NULL,
			data         LONGBLOB,
			metadata     LONGBLOB,
			UNIQUE KEY uq_%[1]s_stream_event (stream_id, event_number)
		)`,
	rebind: func(q string) string { return q },
	isUnique: func(err error) bool {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return myErr.Number == 1062 // ER_DUP_ENTRY
		}
		return false
	},
}

// DialectByName returns the dialect for "sqlite", "postgres" or "mysql".
func DialectByName(name string) (Dialect, error) {
	switch name {
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	case Postgres.Name, "pg":
		return Postgres, nil
	case MySQL.Name, "mariadb":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
	}
}
