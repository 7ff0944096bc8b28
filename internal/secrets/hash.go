package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Hasher applies a keyed one-way transform to external user identifiers.
// The same input always yields the same output, so hashed values serve as
// lookup keys while the raw identifier never reaches storage.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher from a non-empty secret key.
func NewHasher(key string) (*Hasher, error) {
	if key == "" {
		return nil, errors.New("secrets: hash key is required")
	}
	return &Hasher{key: []byte(key)}, nil
}

// Sum returns the hex-encoded HMAC-SHA256 of value.
func (h *Hasher) Sum(value string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
