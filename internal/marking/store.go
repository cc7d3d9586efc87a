package marking

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
	"github.com/campusbot/attendance-broker/internal/secretstore"
)

var tracer = observability.Tracer("marking")

// sessionDynamoDB is a narrow, consumer-defined interface for the DynamoDB
// operations the store calls. Only this file imports dynamo re-exports;
// *dynamodb.Client satisfies it directly.
type sessionDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
}

// sessionItem is the DynamoDB item shape for the marking_sessions table.
// Remaining and Results nest arbitrarily (a set of ids, a map keyed by id)
// so, as the Challenge Coordinator does for its own nested fields, they
// cross the boundary as JSON strings rather than native lists/maps.
type sessionItem struct {
	SessionID          string `dynamodbav:"session_id"`
	Owner              string `dynamodbav:"owner"`
	TokenCiphertext    []byte `dynamodbav:"token_ciphertext"`
	OwnerTokenJTI      string `dynamodbav:"owner_token_jti"`
	Status             string `dynamodbav:"status"`
	Total              int    `dynamodbav:"total"`
	Processed          int    `dynamodbav:"processed"`
	Successful         int    `dynamodbav:"successful"`
	Failed             int    `dynamodbav:"failed"`
	RemainingJSON      string `dynamodbav:"remaining"`
	ResultsJSON        string `dynamodbav:"results"`
	Group              string `dynamodbav:"group_code"`
	Discipline         string `dynamodbav:"discipline"`
	StartedAt          string `dynamodbav:"started_at"`
	Error              string `dynamodbav:"error"`
	TTL                int64  `dynamodbav:"ttl"`
}

// Store persists MarkingSession rows in DynamoDB. It is the durable
// snapshot the engine's owning actor writes after every wave; it holds no
// opinion on concurrency itself — only one goroutine ever calls Put for a
// given session (§3.2, §9).
type Store struct {
	db        sessionDynamoDB
	tableName string
	secrets   secretstore.Store
	clock     domain.Clock
}

// NewStore creates a Store backed by db.
func NewStore(db sessionDynamoDB, tableName string, secrets secretstore.Store, clock domain.Clock) *Store {
	return &Store{db: db, tableName: tableName, secrets: secrets, clock: clock}
}

// Get retrieves the MarkingSession for id. Returns domain.ErrSessionNotFound
// if no row exists.
func (s *Store) Get(ctx context.Context, id domain.MarkingSessionID) (*domain.MarkingSession, error) {
	ctx, span := tracer.Start(ctx, "marking.store.get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"), attribute.String("db.operation", "GetItem"))

	consistentRead := true
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"session_id": &dynamo.AttributeValueMemberS{Value: id.String()},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("marking store: get: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("marking store: get %s: %w", id, domain.ErrSessionNotFound)
	}

	var item sessionItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("marking store: unmarshal: %w", err)
	}
	return s.decode(ctx, item)
}

// Put upserts the full snapshot of session.
func (s *Store) Put(ctx context.Context, session domain.MarkingSession) error {
	ctx, span := tracer.Start(ctx, "marking.store.put")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"), attribute.String("db.operation", "PutItem"))

	item, err := s.encode(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marking store: marshal: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marking store: put: %w", err)
	}
	return nil
}

func (s *Store) encode(ctx context.Context, session domain.MarkingSession) (sessionItem, error) {
	remainingJSON, err := json.Marshal(session.Remaining)
	if err != nil {
		return sessionItem{}, fmt.Errorf("marking store: marshal remaining: %w", err)
	}
	resultsJSON, err := json.Marshal(session.Results)
	if err != nil {
		return sessionItem{}, fmt.Errorf("marking store: marshal results: %w", err)
	}

	tokenCipher, err := s.encryptToken(ctx, session.Token)
	if err != nil {
		return sessionItem{}, fmt.Errorf("marking store: encrypt token: %w", err)
	}

	return sessionItem{
		SessionID:      session.ID.String(),
		Owner:          session.Owner.String(),
		TokenCiphertext: tokenCipher,
		OwnerTokenJTI:  session.OwnerTokenJTI,
		Status:         string(session.Status),
		Total:          session.Total,
		Processed:      session.Processed,
		Successful:     session.Successful,
		Failed:         session.Failed,
		RemainingJSON:  string(remainingJSON),
		ResultsJSON:    string(resultsJSON),
		Group:          session.Group,
		Discipline:     session.Discipline,
		StartedAt:      session.StartedAt.UTC().Format(time.RFC3339),
		Error:          session.Error,
		TTL:            session.StartedAt.Add(domain.MarkingSessionTTL).Unix(),
	}, nil
}

func (s *Store) decode(ctx context.Context, item sessionItem) (*domain.MarkingSession, error) {
	id, err := domain.NewMarkingSessionID(item.SessionID)
	if err != nil {
		return nil, fmt.Errorf("marking store: decode session id: %w", err)
	}
	owner, err := domain.NewUserID(item.Owner)
	if err != nil {
		return nil, fmt.Errorf("marking store: decode owner: %w", err)
	}
	startedAt, err := time.Parse(time.RFC3339, item.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("marking store: parse started_at: %w", err)
	}

	var remaining []domain.UserID
	if item.RemainingJSON != "" {
		if err := json.Unmarshal([]byte(item.RemainingJSON), &remaining); err != nil {
			return nil, fmt.Errorf("marking store: unmarshal remaining: %w", err)
		}
	}
	results := make(map[domain.UserID]domain.MarkingResult)
	if item.ResultsJSON != "" {
		if err := json.Unmarshal([]byte(item.ResultsJSON), &results); err != nil {
			return nil, fmt.Errorf("marking store: unmarshal results: %w", err)
		}
	}

	token, err := s.decryptToken(ctx, item.TokenCiphertext)
	if err != nil {
		return nil, fmt.Errorf("marking store: decrypt token: %w", err)
	}

	return &domain.MarkingSession{
		ID:            id,
		Owner:         owner,
		Token:         token,
		OwnerTokenJTI: item.OwnerTokenJTI,
		Status:        domain.MarkingStatus(item.Status),
		Total:      item.Total,
		Processed:  item.Processed,
		Successful: item.Successful,
		Failed:     item.Failed,
		Remaining:  remaining,
		Results:    results,
		Group:      item.Group,
		Discipline: item.Discipline,
		StartedAt:  startedAt,
		Error:      item.Error,
	}, nil
}

func (s *Store) encryptToken(ctx context.Context, token domain.SecretString) ([]byte, error) {
	if token.IsEmpty() {
		return nil, nil
	}
	return s.secrets.Encrypt(ctx, []byte(token.Expose()))
}

func (s *Store) decryptToken(ctx context.Context, ciphertext []byte) (domain.SecretString, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	plaintext, err := s.secrets.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", err
	}
	return domain.SecretString(plaintext), nil
}
