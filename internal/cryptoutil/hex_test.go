package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHexString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", true},
		{"lowercase hex", "deadbeef", true},
		{"uppercase hex", "DEADBEEF", true},
		{"mixed case", "DeAdBeEf", true},
		{"digits only", "0123456789", true},
		{"64 char key", "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90", true},
		{"contains g", "0123abcg", false},
		{"space", "ab cd", false},
		{"special char", "abcd!!", false},
		{"newline", "abcd\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHexString(tt.in))
		})
	}
}

func TestResolveKey(t *testing.T) {
	raw := "12345678901234567890123456789012"
	hexKey := "3132333435363738393031323334353637383930313233343536373839303132"

	fromRaw, err := ResolveKey(raw)
	require.NoError(t, err)
	fromHex, err := ResolveKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, fromRaw, fromHex, "hex form decodes to the same bytes")

	for _, bad := range []string{"", "short", raw + "x", hexKey[:63] + "z"} {
		_, err := ResolveKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}
}
