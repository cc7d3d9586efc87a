package userstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/dynamo"
)

type stubUserDynamo struct {
	items     map[string]map[string]dynamo.AttributeValue
	getItemFn func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
}

func newStubUserDynamo() *stubUserDynamo {
	return &stubUserDynamo{items: map[string]map[string]dynamo.AttributeValue{}}
}

func (s *stubUserDynamo) GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
	if s.getItemFn != nil {
		return s.getItemFn(ctx, params, optFns...)
	}
	key := params.Key["user_id"].(*dynamo.AttributeValueMemberS).Value
	item, ok := s.items[key]
	if !ok {
		return &dynamo.GetItemOutput{}, nil
	}
	return &dynamo.GetItemOutput{Item: item}, nil
}

func (s *stubUserDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	var key string
	if v, ok := params.Item["user_id"].(*dynamo.AttributeValueMemberS); ok {
		key = v.Value
	}
	s.items[key] = params.Item
	return &dynamo.PutItemOutput{}, nil
}

var _ userDynamoDB = (*stubUserDynamo)(nil)

// xorSecrets is a fake secretstore.Store for tests: reversible, not secure,
// good enough to exercise the round-trip and corruption paths.
type xorSecrets struct {
	fail bool
}

func (x *xorSecrets) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return xorBytes(plaintext), nil
}

func (x *xorSecrets) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if x.fail {
		return nil, domain.ErrCredentialCorruption
	}
	return xorBytes(ciphertext), nil
}

func xorBytes(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ 0x5a
	}
	return out
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	db := newStubUserDynamo()
	store := NewStore(db, "users", &xorSecrets{})

	user := domain.User{
		ID:               domain.UserID(100),
		Login:            "a@b",
		Password:         domain.SecretString("p"),
		Group:            "ИКБО-01-21",
		AdminLevel:       0,
		TOTPSeed:         domain.SecretBytes("JBSWY3DPEHPK3PXP"),
		TOTPCredentialID: "cred-1",
	}

	require.NoError(t, store.Put(context.Background(), user))

	got, err := store.Get(context.Background(), domain.UserID(100))
	require.NoError(t, err)
	assert.Equal(t, user.Login, got.Login)
	assert.Equal(t, user.Password.Expose(), got.Password.Expose())
	assert.Equal(t, user.TOTPSeed.Expose(), got.TOTPSeed.Expose())
	assert.Equal(t, user.TOTPCredentialID, got.TOTPCredentialID)
}

func TestStore_Get_NotFound(t *testing.T) {
	db := newStubUserDynamo()
	store := NewStore(db, "users", &xorSecrets{})

	_, err := store.Get(context.Background(), domain.UserID(999))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestStore_Get_CredentialCorruption(t *testing.T) {
	db := newStubUserDynamo()
	secrets := &xorSecrets{}
	store := NewStore(db, "users", secrets)

	user := domain.User{ID: domain.UserID(200), Login: "a@b", Password: domain.SecretString("p")}
	require.NoError(t, store.Put(context.Background(), user))

	secrets.fail = true
	_, err := store.Get(context.Background(), domain.UserID(200))
	assert.ErrorIs(t, err, domain.ErrCredentialCorruption)
}

func TestStore_SetTOTPSeed(t *testing.T) {
	db := newStubUserDynamo()
	store := NewStore(db, "users", &xorSecrets{})

	user := domain.User{ID: domain.UserID(300), Login: "a@b", Password: domain.SecretString("p")}
	require.NoError(t, store.Put(context.Background(), user))

	require.NoError(t, store.SetTOTPSeed(context.Background(), domain.UserID(300), domain.SecretBytes("SEEDSEEDSEED")))

	got, err := store.Get(context.Background(), domain.UserID(300))
	require.NoError(t, err)
	assert.Equal(t, "SEEDSEEDSEED", string(got.TOTPSeed.Expose()))
}

func TestStore_SetTOTPCredentialID(t *testing.T) {
	db := newStubUserDynamo()
	store := NewStore(db, "users", &xorSecrets{})

	user := domain.User{ID: domain.UserID(400), Login: "a@b", Password: domain.SecretString("p")}
	require.NoError(t, store.Put(context.Background(), user))

	require.NoError(t, store.SetTOTPCredentialID(context.Background(), domain.UserID(400), "cred-xyz"))

	got, err := store.Get(context.Background(), domain.UserID(400))
	require.NoError(t, err)
	assert.Equal(t, "cred-xyz", got.TOTPCredentialID)
}

func TestStore_Get_DynamoError(t *testing.T) {
	db := newStubUserDynamo()
	db.getItemFn = func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
		return nil, errors.New("boom")
	}
	store := NewStore(db, "users", &xorSecrets{})

	_, err := store.Get(context.Background(), domain.UserID(1))
	require.Error(t, err)
}
