// Package notify implements the Notification Limiter (component F): the
// 24h-floor gate on out-of-band "challenge pending" messages, and the
// senders that deliver them.
package notify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/observability"
	redisclient "github.com/campusbot/attendance-broker/internal/redis"
)

var tracer = observability.Tracer("notify")

const notifiedMarkerPrefix = "notified:"

// RedisMarker is a fast-path dedup cache in front of the durable
// LastNotifiedAt field on PendingChallenge, so maybe_notify's hot path
// avoids a DynamoDB read under the common case of repeated background
// refresh attempts within the same floor window. DynamoDB stays the
// source of truth: a marker-read failure falls through to the durable
// check rather than either sending or silently suppressing.
type RedisMarker struct {
	cmd redisclient.Cmdable
}

// NewRedisMarker creates a RedisMarker backed by cmd.
func NewRedisMarker(cmd redisclient.Cmdable) *RedisMarker {
	return &RedisMarker{cmd: cmd}
}

// SeenRecently reports whether a notification marker is set for userID.
func (m *RedisMarker) SeenRecently(ctx context.Context, userID domain.UserID) (bool, error) {
	ctx, span := tracer.Start(ctx, "notify.redis_marker.seen_recently")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation", "EXISTS"))

	result, err := m.cmd.Exists(ctx, notifiedMarkerPrefix+userID.String()).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("notify: redis marker seen recently: %w", err)
	}
	return result > 0, nil
}

// Mark sets the dedup marker for userID with a TTL matching the
// notification floor.
func (m *RedisMarker) Mark(ctx context.Context, userID domain.UserID) error {
	ctx, span := tracer.Start(ctx, "notify.redis_marker.mark")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation", "SET"))

	if err := m.cmd.Set(ctx, notifiedMarkerPrefix+userID.String(), "1", domain.NotificationFloor).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("notify: redis marker mark: %w", err)
	}
	return nil
}
