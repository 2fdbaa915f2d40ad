package secrets

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestRoundTrip(t *testing.T) {
	b, err := NewBox(testKey)
	require.NoError(t, err)

	for _, plain := range []string{"", "api-key", "üñïçødé ✓", strings.Repeat("x", 4096)} {
		enc, err := b.Encrypt(plain)
		require.NoError(t, err)

		parts := strings.Split(enc, ":")
		require.Len(t, parts, 3)
		iv, err := hex.DecodeString(parts[0])
		require.NoError(t, err)
		assert.Len(t, iv, 16)
		tag, err := hex.DecodeString(parts[1])
		require.NoError(t, err)
		assert.Len(t, tag, 16)

		got, err := b.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	b, err := NewBox(testKey)
	require.NoError(t, err)

	enc, err := b.Encrypt("sensitive")
	require.NoError(t, err)

	// Flip one nibble in each field in turn.
	for _, idx := range []int{0, 34, len(enc) - 1} {
		mutated := []byte(enc)
		if mutated[idx] == 'a' {
			mutated[idx] = 'b'
		} else {
			mutated[idx] = 'a'
		}
		_, err := b.Decrypt(string(mutated))
		assert.ErrorIs(t, err, ErrDecrypt, "mutation at %d must fail", idx)
	}

	_, err = b.Decrypt("not-an-envelope")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestKeyValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"not hex", strings.Repeat("z", 64)},
		{"too long", testKey + "ff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBox(tt.key)
			assert.ErrorIs(t, err, ErrKeyFormat)
		})
	}
}

func TestProcessWideBox(t *testing.T) {
	Reset()
	_, err := Default()
	assert.Error(t, err)

	require.NoError(t, Init(testKey))
	b, err := Default()
	require.NoError(t, err)
	enc, err := b.Encrypt("m")
	require.NoError(t, err)
	got, err := b.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "m", got)
	Reset()
}
