package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryptFailed covers every decryption failure: truncated input,
// corrupted nonce, authentication-tag mismatch. Callers never get partial
// plaintext.
var ErrDecryptFailed = errors.New("decryption failed")

const gcmNonceSize = 12

// Cipher is the authenticated-encryption codec for content at rest.
// AES-256-GCM; every encryption draws a fresh random nonce and prepends
// it to the ciphertext, so decryption needs no external state.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher expects a base64-encoded 256-bit key. Anything else is a
// startup failure, not something to limp along without.
func NewCipher(keyBase64 string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// EncryptText encrypts a string to base64(nonce || ciphertext || tag).
// Empty input passes through as empty: "no content" is stored as absence,
// and absence must never be handed back to Decrypt.
func (c *Cipher) EncryptText(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	blob, err := c.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

func (c *Cipher) DecryptText(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	blob, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plaintext, err := c.DecryptBytes(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (c *Cipher) EncryptBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, gcmNonceSize+len(data)+c.aead.Overhead())
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, data, nil), nil
}

func (c *Cipher) DecryptBytes(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) <= gcmNonceSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryptFailed)
	}

	nonce := blob[:gcmNonceSize]
	ciphertext := blob[gcmNonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}
