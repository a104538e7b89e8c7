// Package keys resolves the single active block encryption key.
//
// Resolution order:
//  1. The ORION_BLOCK_ENCRYPTION_KEY environment override. When set it is
//     authoritative and the configuration store is never consulted.
//  2. The BLOCK_ENCRYPTION_KEY row of the configuration store.
//  3. A freshly generated key, persisted with insert-if-absent semantics.
//
// Step 3 is the only place where concurrent callers can collide. The
// configuration store enforces uniqueness on the key name; a caller whose
// insert loses re-reads and returns the winner's key, never its own.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fernet/fernet-go"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

const (
	// EnvOverride names the environment variable carrying an operator key.
	EnvOverride = "ORION_BLOCK_ENCRYPTION_KEY"
	// ConfigKey is the configuration store key holding the generated key.
	ConfigKey = "BLOCK_ENCRYPTION_KEY"
	// ValueField is the field of the configuration value holding the key.
	ValueField = "fernet_key"
)

// ConfigStore is the subset of the configuration store the provider needs.
type ConfigStore interface {
	// ReadByKey returns domain.ErrNotFound when no row exists.
	ReadByKey(ctx context.Context, db app.DBTX, key string) (domain.Configuration, error)
	// Create inserts c unless a row with the same key exists, in which case
	// it returns domain.ErrConfigurationExists and writes nothing.
	Create(ctx context.Context, db app.DBTX, c domain.Configuration) error
}

// Provider resolves the active key. The zero value is not usable; construct
// via New. Provider holds no key material between calls.
type Provider struct {
	Store   ConfigStore
	Getenv  func(string) (string, bool)
	Logger  *slog.Logger
	Metrics app.Recorder

	// MaxRetries bounds the re-read attempts after losing the first-use race.
	MaxRetries    uint64
	RetryInterval time.Duration
}

// New returns a Provider reading the process environment.
func New(store ConfigStore) *Provider {
	return &Provider{
		Store:         store,
		Getenv:        os.LookupEnv,
		Logger:        slog.Default(),
		MaxRetries:    3,
		RetryInterval: 10 * time.Millisecond,
	}
}

// Resolve returns the active key, generating and persisting one on first use.
func (p *Provider) Resolve(ctx context.Context, db app.DBTX) (*fernet.Key, error) {
	if raw, ok := p.Getenv(EnvOverride); ok && raw != "" {
		k, err := fernet.DecodeKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s does not hold a valid key", domain.ErrKeyUnavailable, EnvOverride)
		}
		return k, nil
	}

	var key *fernet.Key
	op := func() error {
		k, err := p.load(ctx, db)
		if err == nil {
			key = k
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		k, err = p.generate(ctx, db)
		switch {
		case err == nil:
			key = k
			return nil
		case errors.Is(err, domain.ErrConfigurationExists):
			// lost the race; the next attempt reads the winner's key
			return err
		default:
			return backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrKeyPersistenceFailed, err))
		}
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.RetryInterval), p.MaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, domain.ErrConfigurationExists) {
			return nil, fmt.Errorf("%w: %w", domain.ErrKeyPersistenceFailed, err)
		}
		return nil, err
	}
	return key, nil
}

func (p *Provider) load(ctx context.Context, db app.DBTX) (*fernet.Key, error) {
	c, err := p.Store.ReadByKey(ctx, db, ConfigKey)
	if err != nil {
		return nil, err
	}
	raw, ok := c.Value[ValueField].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: %s has no %s", domain.ErrKeyUnavailable, ConfigKey, ValueField)
	}
	k, err := fernet.DecodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s does not hold a valid key", domain.ErrKeyUnavailable, ConfigKey)
	}
	return k, nil
}

func (p *Provider) generate(ctx context.Context, db app.DBTX) (*fernet.Key, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, err
	}
	c := domain.Configuration{Key: ConfigKey, Value: map[string]any{ValueField: k.Encode()}}
	if err := p.Store.Create(ctx, db, c); err != nil {
		return nil, err
	}
	// the row is visible to other sessions only once the caller commits
	p.logger().Info("inserted block encryption key", "domain", "keys", "config_key", ConfigKey)
	if p.Metrics != nil {
		p.Metrics.Inc(app.MetricKeyInserts, 1)
	}
	return &k, nil
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
