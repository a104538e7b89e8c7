// Package sqldb provides database/sql implementations of the block index and
// configuration store ports for SQLite and PostgreSQL.
//
// Every statement runs through a caller-supplied app.DBTX. Nothing in this
// package begins or ends a transaction except TxRunner, which only the outer
// delivery layer uses.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	// database/sql PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Dialect captures the engine-specific parts of the SQL this package issues.
type Dialect struct {
	// Name is the configuration value selecting the dialect.
	Name string
	// Driver is the database/sql driver name.
	Driver string

	idDefault string
	clock     string
	jsonType  string
	lockRow   string
	numbered  bool
	unique    func(error) bool
}

// SQLite serialises writers at the database level, so row locks are a no-op.
var SQLite = Dialect{
	Name:      "sqlite",
	Driver:    "sqlite3",
	idDefault: "(lower(hex(randomblob(16))))",
	clock:     "CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)",
	jsonType:  "TEXT",
	unique: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// Postgres targets PostgreSQL through pgx's database/sql adapter.
var Postgres = Dialect{
	Name:      "postgres",
	Driver:    "pgx",
	idDefault: "md5(random()::text || clock_timestamp()::text)",
	clock:     "((extract(epoch from clock_timestamp()) * 1000)::bigint)",
	jsonType:  "JSONB",
	lockRow:   " FOR UPDATE",
	numbered:  true,
	unique: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == pgUniqueViolation
	},
}

// ErrUnknownDialect is returned by ForName for unsupported names.
var ErrUnknownDialect = errors.New("unknown sql dialect")

// ForName returns the dialect registered under name.
func ForName(name string) (Dialect, error) {
	switch name {
	case SQLite.Name:
		return SQLite, nil
	case Postgres.Name:
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}

// Open opens and pings a database using the dialect's driver.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, nil
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func (d Dialect) IsUniqueViolation(err error) bool {
	return err != nil && d.unique != nil && d.unique(err)
}

// bind rewrites ? placeholders into the dialect's form. Queries built in this
// package never contain a literal question mark.
func (d Dialect) bind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] != '?' {
			b.WriteByte(q[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
