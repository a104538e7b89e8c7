package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
	"github.com/haukened/blockvault/internal/keys"
)

var _ keys.ConfigStore = (*ConfigStore)(nil)

// ConfigStore implements keys.ConfigStore over the configuration table.
type ConfigStore struct {
	d Dialect

	read, create string
}

// NewConfigStore prepares the statements for d.
func NewConfigStore(d Dialect) *ConfigStore {
	return &ConfigStore{
		d:    d,
		read: d.bind(`SELECT value FROM ` + ConfigTable + ` WHERE key_name = ?`),
		// insert-if-absent; the unique key_name decides a concurrent race
		create: d.bind(`INSERT INTO ` + ConfigTable + ` (key_name, value) VALUES (?, ?) ON CONFLICT (key_name) DO NOTHING`),
	}
}

// ReadByKey returns the configuration row for key.
func (c *ConfigStore) ReadByKey(ctx context.Context, db app.DBTX, key string) (domain.Configuration, error) {
	var raw []byte
	if err := db.QueryRowContext(ctx, c.read, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Configuration{}, domain.ErrNotFound
		}
		return domain.Configuration{}, fmt.Errorf("select configuration %s: %w", key, err)
	}
	cfg := domain.Configuration{Key: key}
	if err := json.Unmarshal(raw, &cfg.Value); err != nil {
		return domain.Configuration{}, fmt.Errorf("configuration %s: %w", key, err)
	}
	return cfg, nil
}

// Create inserts cfg unless its key is taken.
func (c *ConfigStore) Create(ctx context.Context, db app.DBTX, cfg domain.Configuration) error {
	raw, err := json.Marshal(cfg.Value)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, c.create, cfg.Key, string(raw))
	if err != nil {
		if c.d.IsUniqueViolation(err) {
			return domain.ErrConfigurationExists
		}
		return fmt.Errorf("insert configuration %s: %w", cfg.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConfigurationExists
	}
	return nil
}
