package main

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestNewCipher_RejectsBadKeys(t *testing.T) {
	_, err := NewCipher("not-base64!!!")
	require.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err = NewCipher(short)
	require.Error(t, err)
	require.Contains(t, err.Error(), "32 bytes")
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	for _, plaintext := range []string{"hello", "привет мир", strings.Repeat("x", 5000), "🙂"} {
		encrypted, err := c.EncryptText(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, encrypted)

		decrypted, err := c.DecryptText(encrypted)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestCipher_EmptyPassesThrough(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	encrypted, err := c.EncryptText("")
	require.NoError(t, err)
	require.Equal(t, "", encrypted)

	decrypted, err := c.DecryptText("")
	require.NoError(t, err)
	require.Equal(t, "", decrypted)
}

func TestCipher_NonceMakesCiphertextsDiffer(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	first, err := c.EncryptText("same input")
	require.NoError(t, err)
	second, err := c.EncryptText("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestCipher_TamperedCiphertextFailsClosed(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	encrypted, err := c.EncryptText("secret")
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(blob)

	out, err := c.DecryptText(tampered)
	require.ErrorIs(t, err, ErrDecryptFailed)
	require.Equal(t, "", out)
}

func TestCipher_TruncatedBlobFailsClosed(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	_, err = c.DecryptBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.DecryptText("AAAA")
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestCipher_WrongKeyFailsClosed(t *testing.T) {
	c1, err := NewCipher(testKey())
	require.NoError(t, err)

	otherKey := base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
	c2, err := NewCipher(otherKey)
	require.NoError(t, err)

	encrypted, err := c1.EncryptText("secret")
	require.NoError(t, err)

	_, err = c2.DecryptText(encrypted)
	require.ErrorIs(t, err, ErrDecryptFailed)
}
