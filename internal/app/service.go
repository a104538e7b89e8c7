// Package app contains the application orchestration layer for blockvault.
// It wires the flat <-> stored block mapping with the envelope codec and the
// storage port without performing any I/O itself.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/blockvault/internal/domain"
)

// Service is the block store. Every method runs against the caller-supplied
// session db and calls the codec at most once.
type Service struct {
	Index   BlockIndex
	Codec   Sealer
	Metrics Recorder
}

// Create packs flat, encrypts its payload and inserts the record, then reads
// it back by name to pick up the engine-generated id and timestamps.
func (s *Service) Create(ctx context.Context, db DBTX, flat domain.FlatBlock) (domain.BlockRecord, error) {
	packed, err := domain.Pack(flat)
	if err != nil {
		return domain.BlockRecord{}, err
	}
	env, err := s.Codec.Encrypt(ctx, db, packed.Data)
	if err != nil {
		return domain.BlockRecord{}, err
	}
	if err := s.Index.Insert(ctx, db, packed.Name, packed.BlockReference, env); err != nil {
		return domain.BlockRecord{}, err
	}
	rec, err := s.Index.SelectByName(ctx, db, packed.Name)
	if err != nil {
		return domain.BlockRecord{}, fmt.Errorf("read back %q: %w", packed.Name, err)
	}
	s.inc(MetricBlocksCreated)
	s.observe(MetricEnvelopeBytes, int64(len(env.EncryptedBlob)))
	return rec, nil
}

// ReadByID locks the record for update before decrypting it: a reader about
// to act on the contents must not race a concurrent updater.
func (s *Service) ReadByID(ctx context.Context, db DBTX, idStr string) (domain.FlatBlock, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return nil, err
	}
	rec, err := s.Index.SelectByID(ctx, db, id, true)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, db, rec)
}

// ReadByName is the unlocked read path.
func (s *Service) ReadByName(ctx context.Context, db DBTX, name string) (domain.FlatBlock, error) {
	rec, err := s.Index.SelectByName(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, db, rec)
}

// Update applies the provided fields of upd to the record named name. A
// provided Data is encrypted as a whole replacement; there is no merge with
// the stored payload. It reports whether a row matched.
func (s *Service) Update(ctx context.Context, db DBTX, name string, upd domain.BlockUpdate) (bool, error) {
	if err := upd.Validate(); err != nil {
		return false, err
	}
	if upd.Empty() {
		_, err := s.Index.SelectByName(ctx, db, name)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, domain.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
	fields := BlockFields{Name: upd.Name, BlockReference: upd.BlockReference}
	if upd.Data != nil {
		env, err := s.Codec.Encrypt(ctx, db, upd.Data)
		if err != nil {
			return false, err
		}
		fields.Data = &env
	}
	ok, err := s.Index.Update(ctx, db, name, fields)
	if err != nil {
		return false, err
	}
	if ok {
		s.inc(MetricBlocksUpdated)
	}
	return ok, nil
}

// DeleteByName reports whether a record was deleted.
func (s *Service) DeleteByName(ctx context.Context, db DBTX, name string) (bool, error) {
	ok, err := s.Index.DeleteByName(ctx, db, name)
	if err != nil {
		return false, err
	}
	if ok {
		s.inc(MetricBlocksDeleted)
	}
	return ok, nil
}

func (s *Service) open(ctx context.Context, db DBTX, rec domain.BlockRecord) (domain.FlatBlock, error) {
	data, err := s.Codec.Decrypt(ctx, db, rec.Data)
	if err != nil {
		if errors.Is(err, domain.ErrDecryptionFailed) {
			s.inc(MetricDecryptFailures)
		}
		return nil, err
	}
	s.inc(MetricBlocksRead)
	return domain.Unpack(rec, data), nil
}

func (s *Service) inc(name string) {
	if s.Metrics != nil {
		s.Metrics.Inc(name, 1)
	}
}

func (s *Service) observe(name string, v int64) {
	if s.Metrics != nil {
		s.Metrics.Observe(name, v)
	}
}
