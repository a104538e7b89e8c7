// Package envelope seals block payloads into the stored envelope shape
// {"encrypted_blob": "<token>"} using Fernet authenticated encryption.
//
// The key is resolved on every call through the caller's session. The codec
// never caches key material, so a rotated override or a freshly generated
// key is picked up by the next operation.
package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fernet/fernet-go"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

var _ app.Sealer = (*Codec)(nil)

// noExpiry disables the token age check in fernet.VerifyAndDecrypt.
const noExpiry = -1

// KeyResolver yields the active key for a session.
type KeyResolver interface {
	Resolve(ctx context.Context, db app.DBTX) (*fernet.Key, error)
}

// Codec implements app.Sealer.
type Codec struct {
	Keys KeyResolver
}

// New returns a Codec resolving keys through keys.
func New(keys KeyResolver) *Codec {
	return &Codec{Keys: keys}
}

// Encrypt serializes payload as JSON and seals it into an envelope. Two
// calls with the same payload produce different tokens.
func (c *Codec) Encrypt(ctx context.Context, db app.DBTX, payload map[string]any) (domain.Envelope, error) {
	k, err := c.Keys.Resolve(ctx, db)
	if err != nil {
		return domain.Envelope{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %w", domain.ErrInvalidBlock, err)
	}
	tok, err := fernet.EncryptAndSign(plain, k)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("seal payload: %w", err)
	}
	return domain.Envelope{EncryptedBlob: string(tok)}, nil
}

// Decrypt verifies and opens env. Any failure to authenticate or to parse
// the plaintext as a JSON object yields domain.ErrDecryptionFailed.
func (c *Codec) Decrypt(ctx context.Context, db app.DBTX, env domain.Envelope) (map[string]any, error) {
	if env.EncryptedBlob == "" {
		return nil, domain.ErrMalformedEnvelope
	}
	if !canonical(env.EncryptedBlob) {
		return nil, fmt.Errorf("%w: token is not canonical base64url", domain.ErrDecryptionFailed)
	}
	k, err := c.Keys.Resolve(ctx, db)
	if err != nil {
		return nil, err
	}
	plain := fernet.VerifyAndDecrypt([]byte(env.EncryptedBlob), noExpiry, []*fernet.Key{k})
	if plain == nil {
		return nil, domain.ErrDecryptionFailed
	}
	var payload map[string]any
	if err := json.Unmarshal(plain, &payload); err != nil || payload == nil {
		return nil, fmt.Errorf("%w: plaintext is not a JSON object", domain.ErrDecryptionFailed)
	}
	return payload, nil
}

// canonical reports whether tok is the exact base64url encoding of its own
// bytes. fernet decodes leniently and ignores the low bits of the last
// character before padding.
func canonical(tok string) bool {
	raw, err := base64.URLEncoding.Strict().DecodeString(tok)
	if err != nil {
		return false
	}
	return base64.URLEncoding.EncodeToString(raw) == tok
}
