// Package domain block.go contains the block shapes and the flat <-> stored mapping.
package domain

import (
	"fmt"
	"time"

	"github.com/hengadev/errsx"
)

// Reserved FlatBlock fields. They carry record identity at the edges and are
// never part of the encrypted payload.
const (
	FieldBlockName = "blockname"
	FieldBlockRef  = "blockref"
	FieldBlockID   = "blockid"
)

// FlatBlock is the caller-facing block: arbitrary payload fields merged with
// the reserved identity fields.
type FlatBlock map[string]any

// BlockRecord is a persisted block. ID, Created and Updated are owned by the
// storage engine.
type BlockRecord struct {
	ID             BlockID   `json:"id"`
	Name           string    `json:"name"`
	BlockReference string    `json:"blockref"`
	Data           Envelope  `json:"data"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
}

// PackedBlock is a FlatBlock split into the stored identity columns and the
// plaintext payload that will be encrypted.
type PackedBlock struct {
	Name           string
	BlockReference string
	Data           map[string]any
}

// BlockUpdate is a sparse update. Nil fields are "not provided", never
// "clear". A non-nil Data replaces the whole stored payload.
type BlockUpdate struct {
	Name           *string
	BlockReference *string
	Data           map[string]any
}

// Empty reports whether no field was provided.
func (u BlockUpdate) Empty() bool {
	return u.Name == nil && u.BlockReference == nil && u.Data == nil
}

// Validate applies the Pack identity rules to the provided fields.
func (u BlockUpdate) Validate() error {
	errs := errsx.Map{}
	if u.Name != nil && *u.Name == "" {
		errs.Set(FieldBlockName, fmt.Errorf("%s must not be empty", FieldBlockName))
	}
	if u.BlockReference != nil && *u.BlockReference == "" {
		errs.Set(FieldBlockRef, fmt.Errorf("%s must not be empty", FieldBlockRef))
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBlock, err)
	}
	return nil
}

// Pack strips the reserved fields from flat. blockname and blockref are
// required non-empty strings; blockid is dropped because block data may be
// templated from a schema that already carries a placeholder id, and the
// engine assigns the real one on insert. flat is not modified.
func Pack(flat FlatBlock) (PackedBlock, error) {
	errs := errsx.Map{}
	name, err := requiredString(flat, FieldBlockName)
	if err != nil {
		errs.Set(FieldBlockName, err)
	}
	ref, err := requiredString(flat, FieldBlockRef)
	if err != nil {
		errs.Set(FieldBlockRef, err)
	}
	if err := errs.AsError(); err != nil {
		return PackedBlock{}, fmt.Errorf("%w: %w", ErrInvalidBlock, err)
	}

	data := make(map[string]any, len(flat))
	for k, v := range flat {
		switch k {
		case FieldBlockName, FieldBlockRef, FieldBlockID:
			continue
		}
		data[k] = v
	}
	return PackedBlock{Name: name, BlockReference: ref, Data: data}, nil
}

// Unpack merges the decrypted payload with the record identity. Reserved
// fields always overwrite same-named payload keys.
func Unpack(rec BlockRecord, data map[string]any) FlatBlock {
	flat := make(FlatBlock, len(data)+3)
	for k, v := range data {
		flat[k] = v
	}
	flat[FieldBlockName] = rec.Name
	flat[FieldBlockRef] = rec.BlockReference
	flat[FieldBlockID] = rec.ID.String()
	return flat
}

func requiredString(flat FlatBlock, field string) (string, error) {
	v, ok := flat[field]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", field, v)
	}
	if s == "" {
		return "", fmt.Errorf("%s must not be empty", field)
	}
	return s, nil
}
