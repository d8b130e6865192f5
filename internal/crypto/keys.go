package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of a pseudonymization master key.
const KeySize = 32

// ErrInvalidKeyLength is returned when a master key is not KeySize bytes.
var ErrInvalidKeyLength = errors.New("invalid key length")

// DeriveKey expands master into a 32-byte subkey bound to purpose using HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	h := hkdf.New(sha256.New, master, nil, []byte(purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseKey decodes a hex master key.
func ParseKey(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("key hex decode error: %w", err)
	}
	if len(b) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	return b, nil
}

// GenerateKey returns a fresh random master key.
func GenerateKey() []byte {
	return MustRandom(KeySize)
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
