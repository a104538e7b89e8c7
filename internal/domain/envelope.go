// Package domain envelope.go contains the stored ciphertext shape.
package domain

import (
	"encoding/json"
	"fmt"
)

const encryptedBlobField = "encrypted_blob"

// Envelope is the opaque encrypted form of a block payload. Only the
// envelope codec produces or reads EncryptedBlob; every other layer treats it
// as an opaque value.
//
// The stored JSON shape is {"encrypted_blob": "<token>"}. Decoding rejects
// anything else, so a new variant has to be added here explicitly.
type Envelope struct {
	EncryptedBlob string `json:"encrypted_blob"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	blob, ok := raw[encryptedBlobField]
	if !ok || len(raw) != 1 {
		return ErrMalformedEnvelope
	}
	var s string
	if err := json.Unmarshal(blob, &s); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, encryptedBlobField, err)
	}
	if s == "" {
		return fmt.Errorf("%w: empty %s", ErrMalformedEnvelope, encryptedBlobField)
	}
	e.EncryptedBlob = s
	return nil
}

