// Package security seals chat message content at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks stored values produced by Seal; rows without it are
// plaintext written before encryption was enabled.
const sealedPrefix = "enc:v1:"

// MessageCipher encrypts message content with AES-GCM and a random nonce
// per value.
type MessageCipher struct {
	gcm cipher.AEAD
}

// NewMessageCipher accepts a 16, 24 or 32 byte key (AES-128/192/256).
func NewMessageCipher(key string) (*MessageCipher, error) {
	k := []byte(key)
	switch len(k) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &MessageCipher{gcm: gcm}, nil
}

// Seal returns sealedPrefix + base64(nonce || ciphertext).
func (c *MessageCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged.
func (c *MessageCipher) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns {
		return "", errors.New("ciphertext too short")
	}
	pt, err := c.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("gcm open: %w", err)
	}
	return string(pt), nil
}

func IsSealed(s string) bool { return strings.HasPrefix(s, sealedPrefix) }
