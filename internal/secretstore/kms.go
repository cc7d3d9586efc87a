package secretstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// kmsClient is a narrow, consumer-defined interface for the subset of KMS
// operations required by the Secret Store Adapter. The real *kms.Client
// satisfies this interface — only this file imports the KMS SDK directly,
// the same narrow-interface-per-adapter convention every store in this
// tree follows (see internal/challenge/dynamo_store.go's challengeDynamoDB).
type kmsClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Compile-time check: KMSStore satisfies Store.
var _ Store = (*KMSStore)(nil)

// KMSStore wraps credential fields and TOTP seeds with a single AWS KMS
// customer master key. This is the production adapter: the ciphertext blob
// KMS returns carries the key ID, so no local key material or rotation
// bookkeeping is needed here.
type KMSStore struct {
	client kmsClient
	keyID  string
}

// NewKMSStore creates a KMSStore that encrypts and decrypts under keyID.
func NewKMSStore(client kmsClient, keyID string) *KMSStore {
	return &KMSStore{client: client, keyID: keyID}
}

// Encrypt wraps plaintext under the configured KMS key.
func (s *KMSStore) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     &s.keyID,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("secret store: kms encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Decrypt unwraps ciphertext previously produced by Encrypt. A KMS failure
// (corrupted blob, revoked key, wrong region) is surfaced as
// domain.ErrCredentialCorruption — it is never coerced to an empty secret.
func (s *KMSStore) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          &s.keyID,
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("secret store: kms decrypt: %w: %w", domain.ErrCredentialCorruption, err)
	}
	return out.Plaintext, nil
}
