package envelope

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

type staticKey struct {
	k     *fernet.Key
	err   error
	calls int
}

func (s *staticKey) Resolve(context.Context, app.DBTX) (*fernet.Key, error) {
	s.calls++
	return s.k, s.err
}

func newKey(t *testing.T) *fernet.Key {
	t.Helper()
	var k fernet.Key
	require.NoError(t, k.Generate())
	return &k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := &staticKey{k: newKey(t)}
	c := New(keys)
	ctx := context.Background()
	payload := map[string]any{
		"a":      "b",
		"n":      float64(3),
		"nested": map[string]any{"list": []any{"x", true, nil}},
	}

	env, err := c.Encrypt(ctx, nil, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EncryptedBlob)
	assert.NotContains(t, env.EncryptedBlob, `"a"`)

	got, err := c.Decrypt(ctx, nil, env)
	require.NoError(t, err)
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, keys.calls, "key resolved on every call")
}

func TestEncryptEmptyPayload(t *testing.T) {
	c := New(&staticKey{k: newKey(t)})
	env, err := c.Encrypt(context.Background(), nil, nil)
	require.NoError(t, err)
	got, err := c.Decrypt(context.Background(), nil, env)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestEncryptIsRandomized(t *testing.T) {
	c := New(&staticKey{k: newKey(t)})
	payload := map[string]any{"a": "b"}
	e1, err := c.Encrypt(context.Background(), nil, payload)
	require.NoError(t, err)
	e2, err := c.Encrypt(context.Background(), nil, payload)
	require.NoError(t, err)
	assert.NotEqual(t, e1.EncryptedBlob, e2.EncryptedBlob)
}

const base64URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_="

// Fernet tokens are 57+16n bytes for n cipher blocks, so payload size picks the padding.
func TestDecryptTamperedAnyCharacter(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		padding string
	}{
		{"double padding", map[string]any{"a": "b"}, "=="},
		{"single padding", map[string]any{"a": "0123456789"}, "="},
		{"no padding", map[string]any{"a": "0123456789abcdefghijklmno"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(&staticKey{k: newKey(t)})
			env, err := c.Encrypt(context.Background(), nil, tc.payload)
			require.NoError(t, err)
			blob := env.EncryptedBlob
			require.Equal(t, tc.padding, blob[len(strings.TrimRight(blob, "=")):], "token %q", blob)

			for i := 0; i < len(blob); i++ {
				for _, r := range base64URLAlphabet {
					if byte(r) == blob[i] {
						continue
					}
					b := []byte(blob)
					b[i] = byte(r)
					_, err := c.Decrypt(context.Background(), nil, domain.Envelope{EncryptedBlob: string(b)})
					if !errors.Is(err, domain.ErrDecryptionFailed) {
						t.Fatalf("pos %d %q->%q: expected ErrDecryptionFailed, got %v", i, blob[i], r, err)
					}
				}
			}
		})
	}
}

func TestDecryptRejectsNonCanonicalTail(t *testing.T) {
	c := New(&staticKey{k: newKey(t)})
	env, err := c.Encrypt(context.Background(), nil, map[string]any{"a": "b"})
	require.NoError(t, err)

	// with "==" padding the last data character carries four unused bits
	b := []byte(env.EncryptedBlob)
	last := len(strings.TrimRight(env.EncryptedBlob, "=")) - 1
	b[last] = base64URLAlphabet[strings.IndexByte(base64URLAlphabet, b[last])^1]
	_, err = c.Decrypt(context.Background(), nil, domain.Envelope{EncryptedBlob: string(b)})
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	_, err = c.Decrypt(context.Background(), nil, domain.Envelope{EncryptedBlob: env.EncryptedBlob + "\n"})
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDecryptWrongKey(t *testing.T) {
	env, err := New(&staticKey{k: newKey(t)}).Encrypt(context.Background(), nil, map[string]any{"a": "b"})
	require.NoError(t, err)

	_, err = New(&staticKey{k: newKey(t)}).Decrypt(context.Background(), nil, env)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDecryptNonObjectPlaintext(t *testing.T) {
	k := newKey(t)
	tok, err := fernet.EncryptAndSign([]byte(`["not","an","object"]`), k)
	require.NoError(t, err)

	_, err = New(&staticKey{k: k}).Decrypt(context.Background(), nil, domain.Envelope{EncryptedBlob: string(tok)})
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDecryptEmptyEnvelope(t *testing.T) {
	keys := &staticKey{k: newKey(t)}
	_, err := New(keys).Decrypt(context.Background(), nil, domain.Envelope{})
	assert.ErrorIs(t, err, domain.ErrMalformedEnvelope)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	assert.Zero(t, keys.calls)
}

func TestKeyErrorsPropagate(t *testing.T) {
	c := New(&staticKey{err: domain.ErrKeyUnavailable})
	_, err := c.Encrypt(context.Background(), nil, map[string]any{})
	assert.ErrorIs(t, err, domain.ErrKeyUnavailable)
	_, err = c.Decrypt(context.Background(), nil, domain.Envelope{EncryptedBlob: "x"})
	assert.ErrorIs(t, err, domain.ErrKeyUnavailable)
}
