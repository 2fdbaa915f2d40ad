// Package secrets encrypts connector API keys and channel credentials at
// rest. The wire format is "iv:authTag:ciphertext" with each field hex
// encoded; AES-256-GCM with a 16-byte IV and a 16-byte tag.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	keyHexLen = 64 // 32 bytes
	ivLen     = 16
	tagLen    = 16
)

var (
	// ErrKeyFormat indicates the configured secret key is not 64 hex characters.
	ErrKeyFormat = errors.New("secrets: key must be 64 hex characters")
	// ErrDecrypt indicates the ciphertext failed authentication or is malformed.
	ErrDecrypt = errors.New("secrets: decryption failed")
)

// Box seals and opens secret strings with a fixed 256-bit key.
type Box struct {
	aead cipher.AEAD
}

// NewBox parses a 64-hex-character key and returns a ready Box.
func NewBox(hexKey string) (*Box, error) {
	hexKey = strings.TrimSpace(hexKey)
	if len(hexKey) != keyHexLen {
		return nil, ErrKeyFormat
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrKeyFormat
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm init: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plain and returns the iv:tag:ciphertext encoding.
func (b *Box) Encrypt(plain string) (string, error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secrets: iv: %w", err)
	}
	sealed := b.aead.Seal(nil, iv, []byte(plain), nil)
	// Seal appends the tag after the ciphertext.
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an iv:tag:ciphertext encoding produced by Encrypt.
func (b *Box) Decrypt(enc string) (string, error) {
	parts := strings.Split(enc, ":")
	if len(parts) != 3 {
		return "", ErrDecrypt
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLen {
		return "", ErrDecrypt
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagLen {
		return "", ErrDecrypt
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := b.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

var (
	mu  sync.RWMutex
	box *Box
)

// Init installs the process-wide Box from the configured hex key. It is
// called once at startup; calling it again replaces the key.
func Init(hexKey string) error {
	b, err := NewBox(hexKey)
	if err != nil {
		return err
	}
	mu.Lock()
	box = b
	mu.Unlock()
	return nil
}

// Default returns the process-wide Box installed by Init.
func Default() (*Box, error) {
	mu.RLock()
	defer mu.RUnlock()
	if box == nil {
		return nil, errors.New("secrets: not initialised (missing SECRET_KEY)")
	}
	return box, nil
}

// Reset clears the process-wide Box. Test hook.
func Reset() {
	mu.Lock()
	box = nil
	mu.Unlock()
}
