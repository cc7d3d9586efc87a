package secretstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// LocalStore is the local/dev fallback for Store: AES-256-GCM under a single
// process-wide key. There is no library in the example pack offering
// symmetric AEAD (golang.org/x/crypto appears only for one-way password
// hashing elsewhere in the corpus), so this adapter is hand-rolled directly
// on crypto/aes + crypto/cipher — see DESIGN.md.
//
// Ciphertext layout: 12-byte random nonce || GCM-sealed output (ciphertext
// plus 16-byte tag). The nonce is regenerated per call and prepended so
// Decrypt is self-contained.
type LocalStore struct {
	gcm cipher.AEAD
}

// Compile-time check: LocalStore satisfies Store.
var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a LocalStore from a 32-byte AES-256 key.
func NewLocalStore(key []byte) (*LocalStore, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret store: local: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret store: local: new gcm: %w", err)
	}
	return &LocalStore{gcm: gcm}, nil
}

// Encrypt seals plaintext with a fresh random nonce prepended to the output.
func (s *LocalStore) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secret store: local: read nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. A too-short input or a
// failed authentication tag check is surfaced as domain.ErrCredentialCorruption.
func (s *LocalStore) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("secret store: local: ciphertext too short: %w", domain.ErrCredentialCorruption)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("secret store: local: open: %w: %w", domain.ErrCredentialCorruption, err)
	}
	return plaintext, nil
}
