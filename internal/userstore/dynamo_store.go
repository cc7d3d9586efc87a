// Package userstore persists the User entity (§3.1): the per-user record
// the Session Broker reads credentials and metadata from and the Bot
// Bridge/Auto-2FA Resolver read the TOTP seed from. Login, password, and
// TOTP seed cross the store boundary through the Secret Store Adapter
// (component A) — this package never sees plaintext secrets.
package userstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/dynamo"
	"github.com/campusbot/attendance-broker/internal/observability"
	"github.com/campusbot/attendance-broker/internal/secretstore"
)

var tracer = observability.Tracer("userstore")

// userDynamoDB is a narrow, consumer-defined interface for the DynamoDB
// operations the store calls. Only this file imports dynamo re-exports;
// *dynamodb.Client satisfies it directly.
type userDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
}

// userItem is the DynamoDB item shape for the users table. Login, password,
// and totp_seed hold base64 ciphertext produced by the Secret Store Adapter,
// never plaintext.
type userItem struct {
	UserID             string `dynamodbav:"user_id"`
	LoginCiphertext    []byte `dynamodbav:"login_ciphertext"`
	PasswordCiphertext []byte `dynamodbav:"password_ciphertext"`
	Group              string `dynamodbav:"group"`
	UserAgent          string `dynamodbav:"user_agent"`
	AllowConfirm       bool   `dynamodbav:"allow_confirm"`
	AdminLevel         int    `dynamodbav:"admin_level"`
	FIO                string `dynamodbav:"fio"`
	TOTPSeedCiphertext []byte `dynamodbav:"totp_seed_ciphertext"`
	TOTPCredentialID   string `dynamodbav:"totp_credential_id"`
}

// Store persists User rows in DynamoDB, encrypting/decrypting the
// credential fields and TOTP seed at the boundary via secrets.
type Store struct {
	db        userDynamoDB
	tableName string
	secrets   secretstore.Store
}

// NewStore creates a Store backed by db and secrets.
func NewStore(db userDynamoDB, tableName string, secrets secretstore.Store) *Store {
	return &Store{db: db, tableName: tableName, secrets: secrets}
}

// Get retrieves the User for userID. Returns domain.ErrUserNotFound if no
// row exists. A decrypt failure on any encrypted field is surfaced as
// domain.ErrCredentialCorruption and the row is left untouched — an
// operator must decide (§4.A, §7).
func (s *Store) Get(ctx context.Context, userID domain.UserID) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "userstore.get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"), attribute.String("db.operation", "GetItem"))

	consistentRead := true
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("userstore: get: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("userstore: get %s: %w", userID, domain.ErrUserNotFound)
	}

	var item userItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("userstore: unmarshal: %w", err)
	}
	return s.decrypt(ctx, item)
}

// Put upserts user, encrypting Login, Password, and TOTPSeed before they
// ever reach DynamoDB.
func (s *Store) Put(ctx context.Context, user domain.User) error {
	ctx, span := tracer.Start(ctx, "userstore.put")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"), attribute.String("db.operation", "PutItem"))

	item, err := s.encrypt(ctx, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("userstore: marshal: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("userstore: put: %w", err)
	}
	return nil
}

// SetTOTPSeed stores a new auto-2FA seed for userID without disturbing the
// rest of the row, the operation the Bot Bridge's authenticator-export path
// calls (§4.I).
func (s *Store) SetTOTPSeed(ctx context.Context, userID domain.UserID, seed domain.SecretBytes) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("userstore: set totp seed: %w", err)
	}
	user.TOTPSeed = seed
	return s.Put(ctx, *user)
}

// SetTOTPCredentialID persists the confirmed credential id once auto-2FA or
// an interactive challenge has succeeded with it (§4.E, §4.G.2).
func (s *Store) SetTOTPCredentialID(ctx context.Context, userID domain.UserID, credentialID string) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("userstore: set totp credential id: %w", err)
	}
	user.TOTPCredentialID = credentialID
	return s.Put(ctx, *user)
}

func (s *Store) encrypt(ctx context.Context, user domain.User) (userItem, error) {
	loginCipher, err := s.encryptField(ctx, []byte(user.Login))
	if err != nil {
		return userItem{}, fmt.Errorf("userstore: encrypt login: %w", err)
	}
	passwordCipher, err := s.encryptField(ctx, []byte(user.Password.Expose()))
	if err != nil {
		return userItem{}, fmt.Errorf("userstore: encrypt password: %w", err)
	}
	seedCipher, err := s.encryptField(ctx, user.TOTPSeed.Expose())
	if err != nil {
		return userItem{}, fmt.Errorf("userstore: encrypt totp seed: %w", err)
	}

	return userItem{
		UserID:             user.ID.String(),
		LoginCiphertext:    loginCipher,
		PasswordCiphertext: passwordCipher,
		Group:              user.Group,
		UserAgent:          user.UserAgent,
		AllowConfirm:       user.AllowConfirm,
		AdminLevel:         user.AdminLevel,
		FIO:                user.FIO,
		TOTPSeedCiphertext: seedCipher,
		TOTPCredentialID:   user.TOTPCredentialID,
	}, nil
}

func (s *Store) decrypt(ctx context.Context, item userItem) (*domain.User, error) {
	login, err := s.decryptField(ctx, item.LoginCiphertext)
	if err != nil {
		return nil, fmt.Errorf("userstore: decrypt login: %w", err)
	}
	password, err := s.decryptField(ctx, item.PasswordCiphertext)
	if err != nil {
		return nil, fmt.Errorf("userstore: decrypt password: %w", err)
	}
	seed, err := s.decryptField(ctx, item.TOTPSeedCiphertext)
	if err != nil {
		return nil, fmt.Errorf("userstore: decrypt totp seed: %w", err)
	}

	userID, err := domain.NewUserID(item.UserID)
	if err != nil {
		return nil, fmt.Errorf("userstore: decode user id: %w", err)
	}

	return &domain.User{
		ID:               userID,
		Login:            string(login),
		Password:         domain.SecretString(password),
		Group:            item.Group,
		UserAgent:        item.UserAgent,
		AllowConfirm:     item.AllowConfirm,
		AdminLevel:       item.AdminLevel,
		FIO:              item.FIO,
		TOTPSeed:         domain.SecretBytes(seed),
		TOTPCredentialID: item.TOTPCredentialID,
	}, nil
}

// encryptField encrypts raw unless it is empty, in which case it stores an
// empty ciphertext and skips the round trip through the adapter — an empty
// secret field (e.g. no TOTP seed on file) is a legitimate, non-corrupt state.
func (s *Store) encryptField(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return s.secrets.Encrypt(ctx, raw)
}

func (s *Store) decryptField(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	return s.secrets.Decrypt(ctx, ciphertext)
}
