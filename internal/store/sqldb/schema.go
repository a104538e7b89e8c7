package sqldb

import (
	"context"
	"fmt"

	"github.com/haukened/blockvault/internal/app"
)

// Table names.
const (
	BlockTable  = "block_data"
	ConfigTable = "configuration"
)

// Schema returns the DDL statements for d. Identity and timestamps are engine
// defaults; timestamps are unix milliseconds.
func (d Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + BlockTable + ` (
id TEXT PRIMARY KEY DEFAULT ` + d.idDefault + `,
name TEXT NOT NULL UNIQUE,
blockref TEXT NOT NULL,
data ` + d.jsonType + ` NOT NULL,
created BIGINT NOT NULL DEFAULT (` + d.clock + `),
updated BIGINT NOT NULL DEFAULT (` + d.clock + `)
)`,
		`CREATE TABLE IF NOT EXISTS ` + ConfigTable + ` (
id TEXT PRIMARY KEY DEFAULT ` + d.idDefault + `,
key_name TEXT NOT NULL UNIQUE,
value ` + d.jsonType + ` NOT NULL,
created BIGINT NOT NULL DEFAULT (` + d.clock + `),
updated BIGINT NOT NULL DEFAULT (` + d.clock + `)
)`,
	}
}

// InitSchema creates the tables if absent. It is idempotent and never alters
// an existing table.
func InitSchema(ctx context.Context, db app.DBTX, d Dialect) error {
	for _, stmt := range d.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s schema: %w", d.Name, err)
		}
	}
	return nil
}
