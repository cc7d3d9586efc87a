package marking

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/campusbot/attendance-broker/internal/redis"
)

const (
	// revokedJTIPrefix namespaces ownership-token revocation entries from
	// every other key this service keeps in the same Redis database.
	revokedJTIPrefix = "marking:revoked_jti:"

	// revokedJTITTL matches the ownership token's own lifetime: once the
	// token itself would have expired there is nothing left to revoke.
	revokedJTITTL = 1 * time.Hour
)

// RevocationStore tracks ownership tokens (by JWT id) that must no longer
// authorize a continue() call, even though the token's own signature and
// expiry are still valid — the session they name has already finished.
type RevocationStore struct {
	cmd redisclient.Cmdable
}

// NewRevocationStore creates a RevocationStore backed by cmd.
func NewRevocationStore(cmd redisclient.Cmdable) *RevocationStore {
	return &RevocationStore{cmd: cmd}
}

// Revoke marks jti as no longer usable to authorize a continue() call.
func (s *RevocationStore) Revoke(ctx context.Context, jti string) error {
	if jti == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "marking.revocation.revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if err := s.cmd.Set(ctx, revokedJTIPrefix+jti, "1", revokedJTITTL).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marking: revoke ownership token %q: %w", jti, err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked. A Redis failure is
// treated as "revoked" (fail closed): a mass-marking session that cannot
// confirm its owner is still in good standing must not keep running.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	ctx, span := tracer.Start(ctx, "marking.revocation.is_revoked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	result, err := s.cmd.Exists(ctx, revokedJTIPrefix+jti).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("marking: check ownership token revocation %q: %w", jti, err)
	}
	return result > 0, nil
}
