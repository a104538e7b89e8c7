// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the block store depends upon. It follows a hexagonal
// (ports & adapters) design: this package declares what the core needs, while
// adapter packages (SQL storage, the envelope codec, metrics, the HTTP layer)
// provide concrete implementations. No SQL, logging or network concerns
// belong here.
package app

import (
	"context"
	"database/sql"

	"github.com/haukened/blockvault/internal/domain"
)

// DBTX is the caller-owned storage session. Both *sql.DB and *sql.Tx satisfy
// it. The core only issues statements through it; it never begins, commits
// or rolls back, so a caller can group a block operation with other work in
// one transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BlockFields carries the columns of an update. Nil fields are left untouched.
type BlockFields struct {
	Name           *string
	BlockReference *string
	Data           *domain.Envelope
}

// BlockIndex is the storage port for block records.
type BlockIndex interface {
	// Insert adds a record. A taken name yields domain.ErrDuplicateName.
	Insert(ctx context.Context, db DBTX, name, blockRef string, data domain.Envelope) error

	// SelectByID returns the record with id, taking a row lock when forUpdate
	// is set and the engine supports it. Absent rows yield domain.ErrNotFound.
	SelectByID(ctx context.Context, db DBTX, id domain.BlockID, forUpdate bool) (domain.BlockRecord, error)

	// SelectByName returns the record named name without locking.
	SelectByName(ctx context.Context, db DBTX, name string) (domain.BlockRecord, error)

	// Update writes the provided fields of the record named name and reports
	// whether a row matched.
	Update(ctx context.Context, db DBTX, name string, fields BlockFields) (bool, error)

	// DeleteByName removes the record named name and reports whether a row
	// was deleted.
	DeleteByName(ctx context.Context, db DBTX, name string) (bool, error)
}

// Sealer is the envelope codec port. Implementations resolve the active key
// through db on every call.
type Sealer interface {
	Encrypt(ctx context.Context, db DBTX, payload map[string]any) (domain.Envelope, error)
	Decrypt(ctx context.Context, db DBTX, env domain.Envelope) (map[string]any, error)
}

// Recorder receives operational counters. A nil Recorder disables metrics.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// Metric names emitted by the core.
const (
	MetricBlocksCreated   = "blocks_created_total"
	MetricBlocksRead      = "blocks_read_total"
	MetricBlocksUpdated   = "blocks_updated_total"
	MetricBlocksDeleted   = "blocks_deleted_total"
	MetricDecryptFailures = "block_decrypt_failures_total"
	// MetricKeyInserts counts winning key inserts in the caller's session,
	// including sessions that later roll back.
	MetricKeyInserts      = "encryption_key_inserts_total"
	MetricEnvelopeBytes   = "block_envelope_bytes"
)
