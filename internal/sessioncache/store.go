package sessioncache

import (
	"context"
	"log/slog"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// Store composes the Redis fast path with the DynamoDB durable backing
// into the single Session Cache surface the Session Broker façade calls
// (§4.C: load/store/invalidate).
type Store struct {
	cache   *RedisCache
	durable *DynamoStore
	logger  *slog.Logger
}

// NewStore creates a Store over cache and durable.
func NewStore(cache *RedisCache, durable *DynamoStore, logger *slog.Logger) *Store {
	return &Store{cache: cache, durable: durable, logger: logger}
}

// Load returns the cookie jar on file for userID. It tries the Redis fast
// path first; on a miss (or a fast-path failure) it falls back to the
// durable store and backfills Redis on a hit. found is false when neither
// layer has a row.
func (s *Store) Load(ctx context.Context, userID domain.UserID) (jar domain.CookieJar, found bool, err error) {
	jar, found, cacheErr := s.cache.Get(ctx, userID)
	if cacheErr == nil && found {
		return jar, true, nil
	}
	if cacheErr != nil {
		s.logger.WarnContext(ctx, "session cache fast path unavailable, falling back to durable store",
			"user_id", userID.String(), "error", cacheErr)
	}

	stored, err := s.durable.Get(ctx, userID)
	if err != nil {
		return domain.CookieJar{}, false, err
	}
	if stored == nil {
		return domain.CookieJar{}, false, nil
	}

	if err := s.cache.Set(ctx, userID, *stored); err != nil {
		s.logger.WarnContext(ctx, "failed to backfill session cache", "user_id", userID.String(), "error", err)
	}
	return *stored, true, nil
}

// Store persists jar as the current cookie jar for userID in both layers.
// The durable write is the one that must succeed; a fast-path write
// failure is logged but does not fail the call — the next Load simply
// falls back to the durable store.
func (s *Store) Store(ctx context.Context, userID domain.UserID, jar domain.CookieJar) error {
	if err := s.durable.Put(ctx, userID, jar); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, userID, jar); err != nil {
		s.logger.WarnContext(ctx, "failed to populate session cache fast path", "user_id", userID.String(), "error", err)
	}
	return nil
}

// Invalidate removes userID's cookie jar from both layers. Called after an
// Upstream 401 or an empty-response observation (§4.C) forces a rebuild.
func (s *Store) Invalidate(ctx context.Context, userID domain.UserID) error {
	if err := s.durable.Delete(ctx, userID); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "failed to evict session cache fast path", "user_id", userID.String(), "error", err)
	}
	return nil
}
