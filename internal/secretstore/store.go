// Package secretstore implements the Secret Store Adapter (component A):
// authenticated envelope encryption for credential fields and TOTP seeds
// entering and leaving the durable store.
package secretstore

import "context"

// Store wraps and unwraps secret values over an authenticated symmetric
// scheme. All credential fields and TOTP seeds crossing the store boundary
// pass through Encrypt/Decrypt; nothing downstream ever sees plaintext
// outside this adapter.
type Store interface {
	Encrypt(ctx context.Context, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ctx context.Context, ciphertext []byte) (plaintext []byte, err error)
}
