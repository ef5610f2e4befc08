package codec

import (
	"bytes"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/models"
)

func newTestCodec(t *testing.T, password string) *Codec {
	t.Helper()
	c, err := New(password, "test-salt", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

func TestDeriveKey(t *testing.T) {
	k1, iv1 := DeriveKey([]byte("pw"), []byte("salt"))
	k2, iv2 := DeriveKey([]byte("pw"), []byte("salt"))
	k3, _ := DeriveKey([]byte("pw"), []byte("other"))

	assert.Equal(t, k1, k2)
	assert.Equal(t, iv1, iv2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1[:IVSize], iv1[:])
}

func TestSealOpen_RoundTrip(t *testing.T) {
	c := newTestCodec(t, "correct horse")

	inputs := []string{
		"hello",
		"a",
		"exactly sixteen!",
		strings.Repeat("x", 1000),
		"ünïcødé 😀 anonymous feedback",
		"line one\nline two\ttabbed",
	}
	for _, in := range inputs {
		sealed, err := c.Seal(in)
		require.NoError(t, err)
		require.True(t, sealed.IsSealed())
		assert.Equal(t, models.EnvelopeVersion, sealed.Sealed.Version)
		assert.True(t, sealed.Sealed.IsEncrypted)

		iv, err := hex.DecodeString(sealed.Sealed.IV)
		require.NoError(t, err)
		assert.Len(t, iv, IVSize)

		o := c.Open(sealed)
		assert.Equal(t, Decrypted, o.Outcome)
		assert.Equal(t, in, o.Text)
		assert.Equal(t, in, c.Decrypt(sealed).Plain)
		assert.Equal(t, in, c.Reveal(sealed))
	}
}

func TestSeal_FreshIVPerValue(t *testing.T) {
	c := newTestCodec(t, "pw")
	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, a.Sealed.IV, b.Sealed.IV)
	assert.NotEqual(t, a.Sealed.Content, b.Sealed.Content)
}

func TestSeal_EmptyIsNoop(t *testing.T) {
	c := newTestCodec(t, "pw")

	out, err := c.Seal("")
	require.NoError(t, err)
	assert.False(t, out.IsSealed())
	assert.True(t, out.IsEmpty())
}

func TestSeal_RandomFailure(t *testing.T) {
	c, err := New("pw", "salt", WithRandom(bytes.NewReader(nil)))
	require.NoError(t, err)

	_, err = c.Seal("hello")
	assert.Error(t, err)
}

func TestNew_RejectsEmptyPassword(t *testing.T) {
	_, err := New("", "salt")
	assert.Error(t, err)
}

func TestDecrypt_PassesThroughUnsealed(t *testing.T) {
	c := newTestCodec(t, "pw")

	plain := models.PlainText("written before encryption")
	assert.True(t, c.Decrypt(plain).Equal(plain))
	assert.Equal(t, Plain, c.Open(plain).Outcome)

	malformed := models.Seal(models.SealedText{Version: "1.0.0", IsEncrypted: true})
	assert.True(t, c.Decrypt(malformed).Equal(malformed))
	o := c.Open(malformed)
	assert.Equal(t, Plain, o.Outcome)
	assert.ErrorIs(t, o.Err, ErrMalformedEnvelope)
}

func TestDecrypt_FailureReturnsOriginal(t *testing.T) {
	c := newTestCodec(t, "pw")

	sealed, err := c.Seal("secret feedback")
	require.NoError(t, err)

	good := *sealed.Sealed
	tests := []struct {
		name    string
		mutate  func(s models.SealedText) models.SealedText
		wantErr error
	}{
		{
			name:    "non-hex iv",
			mutate:  func(s models.SealedText) models.SealedText { s.IV = "zz"; return s },
			wantErr: ErrInvalidIV,
		},
		{
			name:    "short iv",
			mutate:  func(s models.SealedText) models.SealedText { s.IV = "0011"; return s },
			wantErr: ErrInvalidIV,
		},
		{
			name:    "truncated content",
			mutate:  func(s models.SealedText) models.SealedText { s.Content = s.Content[:10]; return s },
			wantErr: ErrInvalidCiphertext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := models.Seal(tt.mutate(good))

			out := c.Decrypt(bad)
			assert.True(t, out.IsSealed(), "a failed decrypt must hand back the sealed value")
			assert.True(t, out.Equal(bad))

			o := c.Open(bad)
			assert.Equal(t, Failed, o.Outcome)
			assert.ErrorIs(t, o.Err, tt.wantErr)
			assert.Equal(t, Placeholder, c.Reveal(bad))
		})
	}
}

func TestOpen_WrongPasswordNeverRevealsPlaintext(t *testing.T) {
	c := newTestCodec(t, "pw")
	other := newTestCodec(t, "a different password")

	for i := 0; i < 20; i++ {
		sealed, err := c.Seal("secret feedback")
		require.NoError(t, err)

		o := other.Open(sealed)
		assert.NotEqual(t, Plain, o.Outcome)
		if o.Outcome == Decrypted {
			assert.NotEqual(t, "secret feedback", o.Text)
		} else {
			assert.True(t, other.Decrypt(sealed).Equal(sealed))
		}
	}
}

func TestReveal(t *testing.T) {
	c := newTestCodec(t, "pw")
	assert.Equal(t, "legacy", c.Reveal(models.PlainText("legacy")))
	assert.Equal(t, "", c.Reveal(models.Text{}))
	assert.Equal(t, Placeholder, c.Reveal(models.Seal(models.SealedText{IsEncrypted: true})))
}

func TestUnpad(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []byte
		wantErr bool
	}{
		{name: "one byte pad", in: append(bytes.Repeat([]byte{'a'}, 15), 1), want: bytes.Repeat([]byte{'a'}, 15)},
		{name: "full block pad", in: bytes.Repeat([]byte{16}, 16), want: []byte{}},
		{name: "zero pad byte", in: append(bytes.Repeat([]byte{'a'}, 15), 0), wantErr: true},
		{name: "pad too large", in: append(bytes.Repeat([]byte{'a'}, 15), 17), wantErr: true},
		{name: "inconsistent pad", in: append(bytes.Repeat([]byte{'a'}, 14), 3, 2), wantErr: true},
		{name: "empty", in: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unpad(tt.in, IVSize)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPadding)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
