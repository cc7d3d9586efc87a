package secretstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// stubKMSClient implements kmsClient for testing.
type stubKMSClient struct {
	encryptFn func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	decryptFn func(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

func (s *stubKMSClient) Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	return s.encryptFn(ctx, params, optFns...)
}

func (s *stubKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return s.decryptFn(ctx, params, optFns...)
}

func TestKMSStoreEncrypt(t *testing.T) {
	var capturedKeyID string
	stub := &stubKMSClient{
		encryptFn: func(_ context.Context, params *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
			capturedKeyID = *params.KeyId
			return &kms.EncryptOutput{CiphertextBlob: append([]byte("wrapped:"), params.Plaintext...)}, nil
		},
	}

	store := NewKMSStore(stub, "alias/upstream-secrets")
	ciphertext, err := store.Encrypt(context.Background(), []byte("password"))

	require.NoError(t, err)
	assert.Equal(t, "alias/upstream-secrets", capturedKeyID)
	assert.Equal(t, []byte("wrapped:password"), ciphertext)
}

func TestKMSStoreDecrypt(t *testing.T) {
	stub := &stubKMSClient{
		decryptFn: func(_ context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			return &kms.DecryptOutput{Plaintext: []byte("password")}, nil
		},
	}

	store := NewKMSStore(stub, "alias/upstream-secrets")
	plaintext, err := store.Decrypt(context.Background(), []byte("wrapped:password"))

	require.NoError(t, err)
	assert.Equal(t, []byte("password"), plaintext)
}

func TestKMSStoreDecryptFailureSurfacesCredentialCorruption(t *testing.T) {
	stub := &stubKMSClient{
		decryptFn: func(context.Context, *kms.DecryptInput, ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			return nil, errors.New("InvalidCiphertextException")
		},
	}

	store := NewKMSStore(stub, "alias/upstream-secrets")
	_, err := store.Decrypt(context.Background(), []byte("garbage"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialCorruption)
}
