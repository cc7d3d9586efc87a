// Package sessioncache implements the Session Cache (component C): the
// fast-path Redis layer in front of the durable DynamoDB session_cookies
// table. Loads are synchronous; the cache itself manages no per-entry TTL
// (§4.C) — a row is invalidated explicitly on a 401/empty-response
// observation, not aged out.
package sessioncache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/observability"
	redisclient "github.com/campusbot/attendance-broker/internal/redis"
)

var tracer = observability.Tracer("sessioncache")

const cookieJarKeyPrefix = "session_cookies:"

// RedisCache is the hot-path store for a user's cookie jar. It is a cache,
// not a source of truth — callers must treat a miss as "consult the durable
// store", never as "the user has no session".
type RedisCache struct {
	cmd redisclient.Cmdable
}

// NewRedisCache creates a RedisCache backed by cmd.
func NewRedisCache(cmd redisclient.Cmdable) *RedisCache {
	return &RedisCache{cmd: cmd}
}

// Get returns the cached cookie jar for userID. found is false on a cache
// miss; err is non-nil only on a Redis-level failure (a miss is not an
// error).
func (c *RedisCache) Get(ctx context.Context, userID domain.UserID) (jar domain.CookieJar, found bool, err error) {
	ctx, span := tracer.Start(ctx, "sessioncache.redis.get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation", "GET"))

	raw, err := c.cmd.Get(ctx, cookieJarKeyPrefix+userID.String()).Result()
	if err != nil {
		if err == redisclient.Nil {
			return domain.CookieJar{}, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CookieJar{}, false, fmt.Errorf("sessioncache: redis get: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &jar); err != nil {
		return domain.CookieJar{}, false, fmt.Errorf("sessioncache: redis unmarshal: %w", err)
	}
	return jar, true, nil
}

// Set stores jar for userID with no expiration — eviction is the explicit
// Invalidate call, never a TTL (§4.C).
func (c *RedisCache) Set(ctx context.Context, userID domain.UserID, jar domain.CookieJar) error {
	ctx, span := tracer.Start(ctx, "sessioncache.redis.set")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation", "SET"))

	raw, err := json.Marshal(jar)
	if err != nil {
		return fmt.Errorf("sessioncache: redis marshal: %w", err)
	}

	if err := c.cmd.Set(ctx, cookieJarKeyPrefix+userID.String(), raw, 0).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("sessioncache: redis set: %w", err)
	}
	return nil
}

// Delete evicts the cached jar for userID.
func (c *RedisCache) Delete(ctx context.Context, userID domain.UserID) error {
	ctx, span := tracer.Start(ctx, "sessioncache.redis.delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation", "DEL"))

	if err := c.cmd.Del(ctx, cookieJarKeyPrefix+userID.String()).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("sessioncache: redis delete: %w", err)
	}
	return nil
}
