package sessioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/dynamo"
)

// cookieJarDynamoDB is a narrow, consumer-defined interface for the
// DynamoDB operations the durable store calls.
type cookieJarDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamo.DeleteItemInput, optFns ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error)
}

// cookieJarItem is the DynamoDB item shape for the session_cookies table.
type cookieJarItem struct {
	UserID      string `dynamodbav:"user_id"`
	CookiesJSON string `dynamodbav:"cookies"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

// DynamoStore is the durable backing for the Session Cache: the row a
// rebuild reads from after an SSO attempt, and the row the Redis layer is
// refilled from on a cache miss.
type DynamoStore struct {
	db        cookieJarDynamoDB
	tableName string
	clock     domain.Clock
}

// NewDynamoStore creates a DynamoStore backed by the given DynamoDB client.
func NewDynamoStore(db cookieJarDynamoDB, tableName string, clock domain.Clock) *DynamoStore {
	return &DynamoStore{db: db, tableName: tableName, clock: clock}
}

// Get retrieves the stored cookie jar for userID, or (nil, nil) if none is
// on file.
func (s *DynamoStore) Get(ctx context.Context, userID domain.UserID) (*domain.CookieJar, error) {
	consistentRead := true
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("sessioncache: dynamo get: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item cookieJarItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("sessioncache: dynamo unmarshal: %w", err)
	}
	var jar domain.CookieJar
	if item.CookiesJSON != "" {
		if err := json.Unmarshal([]byte(item.CookiesJSON), &jar); err != nil {
			return nil, fmt.Errorf("sessioncache: unmarshal cookies: %w", err)
		}
	}
	return &jar, nil
}

// Put writes jar as the durable record for userID, overwriting whatever
// was there before.
func (s *DynamoStore) Put(ctx context.Context, userID domain.UserID, jar domain.CookieJar) error {
	cookiesJSON, err := json.Marshal(jar)
	if err != nil {
		return fmt.Errorf("sessioncache: marshal cookies: %w", err)
	}

	item := cookieJarItem{
		UserID:      userID.String(),
		CookiesJSON: string(cookiesJSON),
		UpdatedAt:   s.clock.Now().UTC().Format(time.RFC3339),
	}
	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("sessioncache: marshal item: %w", err)
	}

	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		return fmt.Errorf("sessioncache: dynamo put: %w", err)
	}
	return nil
}

// Delete removes the durable row for userID.
func (s *DynamoStore) Delete(ctx context.Context, userID domain.UserID) error {
	_, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("sessioncache: dynamo delete: %w", err)
	}
	return nil
}
