package sessioncache_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/domain/domaintest"
	"github.com/campusbot/attendance-broker/internal/dynamo"
	redisclient "github.com/campusbot/attendance-broker/internal/redis"
	"github.com/campusbot/attendance-broker/internal/sessioncache"
)

// fakeDurableDB is a minimal in-memory stand-in for the DynamoDB table,
// used to exercise Store's fallback/backfill behavior end to end.
type fakeDurableDB struct {
	items map[string]map[string]dynamo.AttributeValue
}

func newFakeDurableDB() *fakeDurableDB {
	return &fakeDurableDB{items: map[string]map[string]dynamo.AttributeValue{}}
}

func (f *fakeDurableDB) GetItem(_ context.Context, params *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
	key := params.Key["user_id"].(*dynamo.AttributeValueMemberS).Value
	return &dynamo.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeDurableDB) PutItem(_ context.Context, params *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	key := params.Item["user_id"].(*dynamo.AttributeValueMemberS).Value
	f.items[key] = params.Item
	return &dynamo.PutItemOutput{}, nil
}

func (f *fakeDurableDB) DeleteItem(_ context.Context, params *dynamo.DeleteItemInput, _ ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error) {
	key := params.Key["user_id"].(*dynamo.AttributeValueMemberS).Value
	delete(f.items, key)
	return &dynamo.DeleteItemOutput{}, nil
}

func newTestStore(t *testing.T) *sessioncache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	cache := sessioncache.NewRedisCache(client.RDB)
	durable := sessioncache.NewDynamoStore(newFakeDurableDB(), "session_cookies", domaintest.NewFakeClock(time.Now()))
	return sessioncache.NewStore(cache, durable, slog.Default())
}

func TestStore_LoadMiss(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Load(context.Background(), domain.MustUserID("42"))

	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_StoreThenLoadHitsFastPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jar := domain.CookieJar{Cookies: []domain.Cookie{{Name: "JSESSIONID", Value: "abc"}}}

	require.NoError(t, store.Store(ctx, domain.MustUserID("42"), jar))

	got, found, err := store.Load(ctx, domain.MustUserID("42"))

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, jar, got)
}

func TestStore_LoadFallsBackToDurableAndBackfillsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	cache := sessioncache.NewRedisCache(client.RDB)
	durableDB := newFakeDurableDB()
	durable := sessioncache.NewDynamoStore(durableDB, "session_cookies", domaintest.NewFakeClock(time.Now()))
	store := sessioncache.NewStore(cache, durable, slog.Default())
	ctx := context.Background()

	jar := domain.CookieJar{Cookies: []domain.Cookie{{Name: "JSESSIONID", Value: "durable-only"}}}
	require.NoError(t, durable.Put(ctx, domain.MustUserID("42"), jar))

	// Fast path is empty; Load must fall back to the durable store.
	got, found, err := store.Load(ctx, domain.MustUserID("42"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jar, got)

	// The fallback must have backfilled the fast path.
	cached, cacheFound, err := cache.Get(ctx, domain.MustUserID("42"))
	require.NoError(t, err)
	assert.True(t, cacheFound)
	assert.Equal(t, jar, cached)
}

func TestStore_Invalidate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jar := domain.CookieJar{Cookies: []domain.Cookie{{Name: "JSESSIONID", Value: "abc"}}}
	require.NoError(t, store.Store(ctx, domain.MustUserID("42"), jar))

	require.NoError(t, store.Invalidate(ctx, domain.MustUserID("42")))

	_, found, err := store.Load(ctx, domain.MustUserID("42"))
	require.NoError(t, err)
	assert.False(t, found)
}
