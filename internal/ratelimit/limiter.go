// Package ratelimit implements the process-wide rate limiter (§5): a
// per-identifier fixed-window request counter guarding every outbound call the broker's
// (out-of-scope) HTTP surface accepts. Identifier selection prefers a user
// id, falls back to a bearer-token hash, and falls back again to the
// client IP (§5).
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/campusbot/attendance-broker/internal/redis"
	"github.com/campusbot/attendance-broker/internal/observability"
)

var tracer = observability.Tracer("ratelimit")

// bucketScript atomically increments a fixed-window counter and sets its
// expiry on the first write, the same INCR+EXPIRE shape the teacher uses
// for its OTP request limiter — it avoids depending on Redis 7's
// conditional EXPIRE NX.
const bucketScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// Limiter is a Redis-backed per-identifier fixed-window request counter.
type Limiter struct {
	cmd               redisclient.Cmdable
	requestsPerMinute int
}

// NewLimiter creates a Limiter enforcing requestsPerMinute per identifier
// per fixed 60-second window, which opens at the identifier's first request.
func NewLimiter(cmd redisclient.Cmdable, requestsPerMinute int) *Limiter {
	return &Limiter{cmd: cmd, requestsPerMinute: requestsPerMinute}
}

// Allow reports whether identifier may make one more request this window.
// A Redis failure fails closed (denies the request) — an unreachable
// limiter must never become an unlimited one.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.allow")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation", "EVAL"))

	key := "ratelimit:" + identifier
	count, err := l.cmd.Eval(ctx, bucketScript, []string{key}, 60).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("ratelimit: allow %q: %w", identifier, err)
	}
	return count <= int64(l.requestsPerMinute), nil
}

// Identifier picks the rate-limit bucket key for a request: user id takes
// priority over a bearer-token hash, which takes priority over the client
// IP (§5). Exactly one of userID, bearerToken, clientIP is expected to be
// non-empty in the common case, but the priority order holds regardless.
func Identifier(userID, bearerToken, clientIP string) string {
	if userID != "" {
		return "user:" + userID
	}
	if bearerToken != "" {
		sum := sha256.Sum256([]byte(bearerToken))
		return "bearer:" + hex.EncodeToString(sum[:])
	}
	return "ip:" + clientIP
}
