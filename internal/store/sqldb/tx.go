package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haukened/blockvault/internal/app"
)

// TxRunner runs work inside a single transaction on DB.
type TxRunner struct {
	DB *sql.DB
}

// InTx begins a transaction, calls fn with it, and commits when fn returns
// nil. Any error or panic from fn rolls back.
func (r TxRunner) InTx(ctx context.Context, fn func(app.DBTX) error) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
