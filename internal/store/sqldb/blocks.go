package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

var _ app.BlockIndex = (*BlockIndex)(nil)

const blockColumns = `id, name, blockref, data, created, updated`

// BlockIndex implements app.BlockIndex. It holds no connection; every call
// runs on the session it is handed.
type BlockIndex struct {
	d Dialect

	insert, byID, byIDLocked, byName, del string
}

// NewBlockIndex prepares the statements for d.
func NewBlockIndex(d Dialect) *BlockIndex {
	sel := `SELECT ` + blockColumns + ` FROM ` + BlockTable
	return &BlockIndex{
		d:          d,
		insert:     d.bind(`INSERT INTO ` + BlockTable + ` (name, blockref, data) VALUES (?, ?, ?)`),
		byID:       d.bind(sel + ` WHERE id = ?`),
		byIDLocked: d.bind(sel + ` WHERE id = ?` + d.lockRow),
		byName:     d.bind(sel + ` WHERE name = ?`),
		del:        d.bind(`DELETE FROM ` + BlockTable + ` WHERE name = ?`),
	}
}

// Insert adds a record; id and timestamps are assigned by the engine.
func (b *BlockIndex) Insert(ctx context.Context, db app.DBTX, name, blockRef string, data domain.Envelope) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, b.insert, name, blockRef, string(raw)); err != nil {
		if b.d.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateName, name)
		}
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// SelectByID returns the record with id, locking it when forUpdate is set.
func (b *BlockIndex) SelectByID(ctx context.Context, db app.DBTX, id domain.BlockID, forUpdate bool) (domain.BlockRecord, error) {
	q := b.byID
	if forUpdate {
		q = b.byIDLocked
	}
	return scanBlock(db.QueryRowContext(ctx, q, id.String()))
}

// SelectByName returns the record named name.
func (b *BlockIndex) SelectByName(ctx context.Context, db app.DBTX, name string) (domain.BlockRecord, error) {
	return scanBlock(db.QueryRowContext(ctx, b.byName, name))
}

// Update writes the provided fields and refreshes the updated timestamp.
func (b *BlockIndex) Update(ctx context.Context, db app.DBTX, name string, fields app.BlockFields) (bool, error) {
	var (
		sets []string
		args []any
	)
	if fields.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *fields.Name)
	}
	if fields.BlockReference != nil {
		sets = append(sets, "blockref = ?")
		args = append(args, *fields.BlockReference)
	}
	if fields.Data != nil {
		raw, err := json.Marshal(fields.Data)
		if err != nil {
			return false, err
		}
		sets = append(sets, "data = ?")
		args = append(args, string(raw))
	}
	sets = append(sets, "updated = "+b.d.clock)
	args = append(args, name)

	q := b.d.bind(`UPDATE ` + BlockTable + ` SET ` + strings.Join(sets, ", ") + ` WHERE name = ?`)
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		if b.d.IsUniqueViolation(err) {
			return false, domain.ErrDuplicateName
		}
		return false, fmt.Errorf("update block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByName removes the record named name.
func (b *BlockIndex) DeleteByName(ctx context.Context, db app.DBTX, name string) (bool, error) {
	res, err := db.ExecContext(ctx, b.del, name)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanBlock(row *sql.Row) (domain.BlockRecord, error) {
	var (
		rec              domain.BlockRecord
		id               string
		data             []byte
		created, updated int64
	)
	if err := row.Scan(&id, &rec.Name, &rec.BlockReference, &data, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BlockRecord{}, domain.ErrNotFound
		}
		return domain.BlockRecord{}, fmt.Errorf("select block: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return domain.BlockRecord{}, fmt.Errorf("block %s: %w", id, err)
	}
	rec.ID = domain.BlockID(id)
	rec.Created = time.UnixMilli(created).UTC()
	rec.Updated = time.UnixMilli(updated).UTC()
	return rec, nil
}
