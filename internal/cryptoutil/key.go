package cryptoutil

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the length of a secretbox key.
const KeySize = 32

// ErrInvalidKey is returned when a key is neither 32 raw bytes nor 64 hex
// characters.
var ErrInvalidKey = errors.New("invalid encryption key")

// ResolveKey interprets key as 64 hex characters or 32 raw bytes.
func ResolveKey(key string) (*[KeySize]byte, error) {
	var out [KeySize]byte
	switch {
	case len(key) == 2*KeySize && IsHexString(key):
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decoding hex key: %w", ErrInvalidKey)
		}
		copy(out[:], decoded)
	case len(key) == KeySize:
		copy(out[:], key)
	default:
		return nil, fmt.Errorf("key must be %d bytes or %d hex characters (got %d): %w",
			KeySize, 2*KeySize, len(key), ErrInvalidKey)
	}
	return &out, nil
}
