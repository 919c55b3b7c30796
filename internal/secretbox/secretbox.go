// Package secretbox seals short strings at rest with XChaCha20-Poly1305.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Prefix marks sealed values so they are never sealed twice.
const Prefix = "enc:v1:"

var hkdfInfo = []byte("finja-memory secrets bank")

// Box seals and opens values with a key derived from a passphrase.
type Box struct {
	key []byte
}

// New derives a 256-bit key from passphrase with HKDF-SHA256.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), nil, hkdfInfo), key); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return &Box{key: key}, nil
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, Prefix)
}

// Seal encrypts plaintext. Already sealed input is returned unchanged.
func (b *Box) Seal(plaintext string) (string, error) {
	if IsSealed(plaintext) {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Unsealed input is returned unchanged so that
// records written before encryption was enabled stay readable.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", errors.Wrap(err, "decode sealed value")
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", errors.Wrap(err, "open sealed value")
	}
	return string(plaintext), nil
}
