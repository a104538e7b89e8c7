// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain-level errors reused by higher layers.
var (
	ErrInvalidID    = errors.New("invalid block id")
	ErrInvalidBlock = errors.New("invalid block")
	ErrNotFound     = errors.New("not found")

	// ErrDuplicateName is returned when a block name is already taken.
	ErrDuplicateName = errors.New("duplicate block name")

	// ErrConfigurationExists is returned by configuration stores when an
	// insert-if-absent lost to an existing row with the same key.
	ErrConfigurationExists = errors.New("configuration key exists")

	ErrKeyUnavailable       = errors.New("encryption key unavailable")
	ErrKeyPersistenceFailed = errors.New("encryption key persistence failed")
	ErrDecryptionFailed     = errors.New("decryption failed")

	// ErrMalformedEnvelope is a DecryptionFailed raised before any cipher work.
	ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
)
