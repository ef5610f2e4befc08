// Package codec seals free-text fields at rest.
//
// Keys are derived with PBKDF2-HMAC-SHA512 (100,000 iterations) and text is
// encrypted with AES-256-CBC and PKCS#7 padding under a fresh random IV per
// value. The IV is stored next to the ciphertext in a models.SealedText.
//
// Decryption has two faces. Open reports exactly what happened through an
// Outcome. Decrypt keeps the rendering path alive: it never fails, and on a
// bad envelope it logs and hands back the original value.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"

	"murmur/models"
)

const (
	Iterations = 100_000
	KeySize    = 32
	IVSize     = aes.BlockSize

	// Placeholder is rendered in place of text that could not be opened.
	Placeholder = "[unreadable content]"
)

var (
	ErrMalformedEnvelope = errors.New("codec: envelope is missing iv or content")
	ErrInvalidIV         = errors.New("codec: invalid iv")
	ErrInvalidCiphertext = errors.New("codec: invalid ciphertext")
	ErrInvalidPadding    = errors.New("codec: invalid padding")
)

// DeriveKey stretches password into an AES-256 key. The trailing 16 bytes of
// the 48-byte derivation are returned as iv but never used to encrypt.
func DeriveKey(password, salt []byte) (key [KeySize]byte, iv [IVSize]byte) {
	out := pbkdf2.Key(password, salt, Iterations, KeySize+IVSize, sha512.New)
	copy(key[:], out[:KeySize])
	copy(iv[:], out[KeySize:])
	return key, iv
}

// Outcome says what Open did with a value.
type Outcome int

const (
	// Plain means the value was never sealed, or was an envelope without
	// iv/content that is passed through untouched.
	Plain Outcome = iota
	Decrypted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Plain:
		return "plain"
	case Decrypted:
		return "decrypted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type Opened struct {
	Text    string
	Outcome Outcome
	Err     error
}

// OK reports whether Text holds readable content.
func (o Opened) OK() bool {
	return o.Outcome != Failed
}

type Codec struct {
	block  cipher.Block
	rand   io.Reader
	logger *slog.Logger
}

type Option func(*Codec)

// WithRandom replaces the IV source.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) { c.rand = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// New derives the key for password and salt once; the codec is then safe for
// concurrent use.
func New(password, salt string, opts ...Option) (*Codec, error) {
	if password == "" {
		return nil, errors.New("codec: empty password")
	}
	key, _ := DeriveKey([]byte(password), []byte(salt))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("codec: create cipher: %w", err)
	}
	c := &Codec{block: block, rand: rand.Reader, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Seal encrypts plaintext into an envelope. Empty input comes back unchanged,
// so callers must not assume every field is sealed.
func (c *Codec) Seal(plaintext string) (models.Text, error) {
	if plaintext == "" {
		return models.PlainText(plaintext), nil
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return models.Text{}, fmt.Errorf("codec: read iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return models.Seal(models.SealedText{
		IV:          hex.EncodeToString(iv),
		Content:     hex.EncodeToString(out),
		Version:     models.EnvelopeVersion,
		IsEncrypted: true,
	}), nil
}

// Open decrypts t and reports the outcome.
func (c *Codec) Open(t models.Text) Opened {
	if !t.IsSealed() {
		return Opened{Text: t.Plain, Outcome: Plain}
	}
	if !t.Sealed.WellFormed() {
		return Opened{Outcome: Plain, Err: ErrMalformedEnvelope}
	}

	plain, err := c.open(*t.Sealed)
	if err != nil {
		return Opened{Outcome: Failed, Err: err}
	}
	return Opened{Text: plain, Outcome: Decrypted}
}

// Decrypt returns t opened to plain text. Values that are not sealed, or not
// well-formed envelopes, come back unchanged. When decryption fails the error
// is logged and the original sealed value is returned: a result that is still
// sealed means failure, not content.
func (c *Codec) Decrypt(t models.Text) models.Text {
	o := c.Open(t)
	switch o.Outcome {
	case Decrypted:
		return models.PlainText(o.Text)
	case Failed:
		c.logger.Warn("decrypt failed, returning sealed value", "error", o.Err)
	}
	return t
}

// Reveal returns display text for t; anything that cannot be opened renders
// as Placeholder.
func (c *Codec) Reveal(t models.Text) string {
	o := c.Open(t)
	switch {
	case o.Outcome == Decrypted:
		return o.Text
	case o.Outcome == Plain && !t.IsSealed():
		return o.Text
	case o.Outcome == Failed:
		c.logger.Warn("decrypt failed, rendering placeholder", "error", o.Err)
	}
	return Placeholder
}

func (c *Codec) open(s models.SealedText) (string, error) {
	iv, err := hex.DecodeString(s.IV)
	if err != nil || len(iv) != IVSize {
		return "", ErrInvalidIV
	}
	data, err := hex.DecodeString(s.Content)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, data)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
