package secretstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("super-secret-upstream-password")

	ciphertext, err := store.Encrypt(context.Background(), plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := store.Decrypt(context.Background(), ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestLocalStoreDistinctNoncesPerCall(t *testing.T) {
	store, err := NewLocalStore(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("totp-seed-bytes")

	c1, err := store.Encrypt(context.Background(), plaintext)
	require.NoError(t, err)
	c2, err := store.Encrypt(context.Background(), plaintext)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(c1, c2), "identical plaintext must not yield identical ciphertext")
}

func TestLocalStoreDecryptTamperedCiphertext(t *testing.T) {
	store, err := NewLocalStore(testKey(t))
	require.NoError(t, err)

	ciphertext, err := store.Encrypt(context.Background(), []byte("secret"))
	require.NoError(t, err)

	tampered := append([]byte{}, ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = store.Decrypt(context.Background(), tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialCorruption)
}

func TestLocalStoreDecryptTooShort(t *testing.T) {
	store, err := NewLocalStore(testKey(t))
	require.NoError(t, err)

	_, err = store.Decrypt(context.Background(), []byte("short"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialCorruption)
}

func TestNewLocalStoreRejectsBadKeySize(t *testing.T) {
	_, err := NewLocalStore([]byte("too-short"))
	require.Error(t, err)
}
