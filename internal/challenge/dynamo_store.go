// Package challenge implements the Challenge Coordinator (component D): the
// single-row-per-user store of in-flight second-factor challenges, the
// anti-spam invariant that stops a new SSO attempt while one is pending, and
// a background sweep for rows DynamoDB's own TTL hasn't reaped yet.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/dynamo"
	"github.com/campusbot/attendance-broker/internal/observability"
)

var tracer = observability.Tracer("challenge")

// challengeDynamoDB is a narrow, consumer-defined interface for the DynamoDB
// operations the store calls. Only this file imports dynamo re-exports;
// *dynamodb.Client satisfies it directly.
type challengeDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamo.DeleteItemInput, optFns ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamo.ScanInput, optFns ...func(*dynamo.Options)) (*dynamo.ScanOutput, error)
}

// challengeItem is the DynamoDB item shape for the pending_challenges table.
// Nested structure (cookies, credentials) is serialized to JSON strings
// rather than native DynamoDB lists/maps — it is opaque to every reader but
// this store, and keeping it a single attribute keeps the upsert-and-inherit
// logic below a single GetItem/PutItem pair.
type challengeItem struct {
	UserID                   string `dynamodbav:"user_id"`
	Kind                     string `dynamodbav:"kind"`
	Origin                   string `dynamodbav:"origin"`
	SubmitURL                string `dynamodbav:"submit_url"`
	CredentialID             string `dynamodbav:"credential_id"`
	ContinuationCookiesJSON  string `dynamodbav:"continuation_cookies"`
	AvailableCredentialsJSON string `dynamodbav:"available_credentials"`
	UserAgent                string `dynamodbav:"user_agent"`
	CreatedAt                string `dynamodbav:"created_at"`
	ExpiresAt                string `dynamodbav:"expires_at"`
	LastNotifiedAt           string `dynamodbav:"last_notified_at"`
	TTL                      int64  `dynamodbav:"ttl"`
}

// Store persists PendingChallenge rows in DynamoDB.
type Store struct {
	db        challengeDynamoDB
	tableName string
	clock     domain.Clock
}

// NewStore creates a Store backed by the given DynamoDB client.
func NewStore(db challengeDynamoDB, tableName string, clock domain.Clock) *Store {
	return &Store{db: db, tableName: tableName, clock: clock}
}

// HasActive reports whether a non-expired PendingChallenge exists for user
// (§4.D.1's anti-spam invariant: the broker must consult this before
// attempting a fresh SSO).
func (s *Store) HasActive(ctx context.Context, userID domain.UserID) (bool, error) {
	challenge, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return challenge != nil, nil
}

// Get retrieves the PendingChallenge for user, or (nil, nil) if none exists
// or the stored row has expired — an expired row is invisible to every
// reader per the boundary behavior in §8.
func (s *Store) Get(ctx context.Context, userID domain.UserID) (*domain.PendingChallenge, error) {
	ctx, span := tracer.Start(ctx, "challenge.store.get")
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
		return nil, fmt.Errorf("challenge store: get: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	pc, err := unmarshalChallenge(out.Item)
	if err != nil {
		return nil, err
	}
	if pc.IsExpired(s.clock.Now()) {
		return nil, nil
	}
	return pc, nil
}

// Put upserts the single row for user. If an older row exists (expired or
// not) and carried a LastNotifiedAt, the new row inherits it (§4.D,
// testable property 2): the notification floor survives challenge
// replacement.
func (s *Store) Put(ctx context.Context, userID domain.UserID, challenge domain.PendingChallenge) error {
	ctx, span := tracer.Start(ctx, "challenge.store.put")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"), attribute.String("db.operation", "PutItem"))

	previous, err := s.rawGet(ctx, userID)
	if err != nil {
		return fmt.Errorf("challenge store: put: %w", err)
	}
	merged := challenge.InheritNotification(previous)

	item, err := marshalChallenge(merged)
	if err != nil {
		return fmt.Errorf("challenge store: put: %w", err)
	}

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("challenge store: marshal: %w", err)
	}

	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("challenge store: put: %w", err)
	}
	return nil
}

// UpdateAfterWrongCode rotates the continuation state of an existing
// challenge after Upstream rejects a code, preserving the user-selected
// CredentialID — Upstream re-emits its own default on wrong-code pages, and
// the coordinator must not let that overwrite the earlier choice (§4.D).
func (s *Store) UpdateAfterWrongCode(ctx context.Context, userID domain.UserID, newCookies domain.CookieJar, newSubmitURL string) error {
	existing, err := s.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("challenge store: update after wrong code: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("challenge store: update after wrong code: %w", domain.ErrNoActiveChallenge)
	}

	existing.ContinuationCookies = newCookies
	existing.SubmitURL = newSubmitURL

	item, err := marshalChallenge(*existing)
	if err != nil {
		return fmt.Errorf("challenge store: update after wrong code: %w", err)
	}
	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("challenge store: marshal: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		return fmt.Errorf("challenge store: update after wrong code: %w", err)
	}
	return nil
}

// MarkNotified sets LastNotifiedAt on the existing row to at, without
// touching any other field. Used by the Notification Limiter (§4.F) after
// it actually sends an out-of-band message.
func (s *Store) MarkNotified(ctx context.Context, userID domain.UserID, at time.Time) error {
	existing, err := s.rawGet(ctx, userID)
	if err != nil {
		return fmt.Errorf("challenge store: mark notified: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("challenge store: mark notified: %w", domain.ErrNoActiveChallenge)
	}

	notifiedAt := at
	existing.LastNotifiedAt = &notifiedAt

	item, err := marshalChallenge(*existing)
	if err != nil {
		return fmt.Errorf("challenge store: mark notified: %w", err)
	}
	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("challenge store: marshal: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		return fmt.Errorf("challenge store: mark notified: %w", err)
	}
	return nil
}

// Delete removes the PendingChallenge row for user, on success or admin
// cleanup.
func (s *Store) Delete(ctx context.Context, userID domain.UserID) error {
	_, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("challenge store: delete: %w", err)
	}
	return nil
}

// CleanupExpired scans for rows whose expires_at has passed and deletes
// them. DynamoDB's own TTL sweep can lag up to 48h behind the item's ttl
// attribute; this is the eager background counterpart the ops runner calls
// on an interval. Returns the number of rows deleted.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "challenge.store.cleanup_expired")
	defer span.End()

	now := s.clock.Now().UTC().Format(time.RFC3339)
	filterExpr := "expires_at < :now"

	out, err := s.db.Scan(ctx, &dynamo.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: &filterExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":now": &dynamo.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("challenge store: cleanup expired: scan: %w", err)
	}

	deleted := 0
	for _, raw := range out.Items {
		var item challengeItem
		if err := dynamo.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		if _, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
			TableName: &s.tableName,
			Key: map[string]dynamo.AttributeValue{
				"user_id": &dynamo.AttributeValueMemberS{Value: item.UserID},
			},
		}); err != nil {
			return deleted, fmt.Errorf("challenge store: cleanup expired: delete %s: %w", item.UserID, err)
		}
		deleted++
	}
	return deleted, nil
}

// rawGet reads the existing row without the expiry filter Get applies —
// Put needs the raw LastNotifiedAt even from an expired row so the
// notification floor is never reset just because the challenge timed out.
func (s *Store) rawGet(ctx context.Context, userID domain.UserID) (*domain.PendingChallenge, error) {
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return unmarshalChallenge(out.Item)
}

func marshalChallenge(pc domain.PendingChallenge) (challengeItem, error) {
	cookiesJSON, err := json.Marshal(pc.ContinuationCookies)
	if err != nil {
		return challengeItem{}, fmt.Errorf("marshal continuation cookies: %w", err)
	}
	credsJSON, err := json.Marshal(pc.AvailableCredentials)
	if err != nil {
		return challengeItem{}, fmt.Errorf("marshal available credentials: %w", err)
	}

	var lastNotified string
	if pc.LastNotifiedAt != nil {
		lastNotified = pc.LastNotifiedAt.UTC().Format(time.RFC3339)
	}

	return challengeItem{
		UserID:                   pc.UserID.String(),
		Kind:                     string(pc.Kind),
		Origin:                   string(pc.Origin),
		SubmitURL:                pc.SubmitURL,
		CredentialID:             pc.CredentialID,
		ContinuationCookiesJSON:  string(cookiesJSON),
		AvailableCredentialsJSON: string(credsJSON),
		UserAgent:                pc.UserAgent,
		CreatedAt:                pc.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:                pc.ExpiresAt.UTC().Format(time.RFC3339),
		LastNotifiedAt:           lastNotified,
		TTL:                      pc.ExpiresAt.Unix(),
	}, nil
}

func unmarshalChallenge(raw map[string]dynamo.AttributeValue) (*domain.PendingChallenge, error) {
	var item challengeItem
	if err := dynamo.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("challenge store: unmarshal: %w", err)
	}

	var cookies domain.CookieJar
	if item.ContinuationCookiesJSON != "" {
		if err := json.Unmarshal([]byte(item.ContinuationCookiesJSON), &cookies); err != nil {
			return nil, fmt.Errorf("challenge store: unmarshal cookies: %w", err)
		}
	}
	var creds []domain.OTPCredential
	if item.AvailableCredentialsJSON != "" {
		if err := json.Unmarshal([]byte(item.AvailableCredentialsJSON), &creds); err != nil {
			return nil, fmt.Errorf("challenge store: unmarshal credentials: %w", err)
		}
	}

	createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("challenge store: parse created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("challenge store: parse expires_at: %w", err)
	}

	var lastNotifiedAt *time.Time
	if item.LastNotifiedAt != "" {
		t, err := time.Parse(time.RFC3339, item.LastNotifiedAt)
		if err != nil {
			return nil, fmt.Errorf("challenge store: parse last_notified_at: %w", err)
		}
		lastNotifiedAt = &t
	}

	return &domain.PendingChallenge{
		UserID:               domain.MustUserID(item.UserID),
		ContinuationCookies:  cookies,
		SubmitURL:            item.SubmitURL,
		CredentialID:         item.CredentialID,
		AvailableCredentials: creds,
		Kind:                 domain.ChallengeKind(item.Kind),
		Origin:               domain.ChallengeOrigin(item.Origin),
		UserAgent:            item.UserAgent,
		CreatedAt:            createdAt,
		ExpiresAt:            expiresAt,
		LastNotifiedAt:       lastNotifiedAt,
	}, nil
}
