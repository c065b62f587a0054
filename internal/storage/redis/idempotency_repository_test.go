package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// liveRedis подключается к MARKET_REDIS_ADDR или пропускает тест.
func liveRedis(t *testing.T) (*IdempotencyRepository, *redis.Client) {
	t.Helper()

	addr := os.Getenv("MARKET_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyRepository(client), client
}

func freshKey(t *testing.T, client *redis.Client) string {
	t.Helper()
	key := "it-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), claimPrefix+key) })
	return key
}

func TestRedisClaim_SettleKeepsTTL(t *testing.T) {
	repo, client := liveRedis(t)
	ctx := context.Background()
	key := freshKey(t, client)

	claim, err := repo.Claim(ctx, key, "POST /market/orders|abc", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claim.InFlight())

	require.NoError(t, repo.Settle(ctx, key, domain.CachedResponse{Status: 201, Body: []byte(`{"id":"o-1"}`)}))

	got, err := repo.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, got.InFlight())
	require.Equal(t, 201, got.Response.Status)
	require.JSONEq(t, `{"id":"o-1"}`, string(got.Response.Body))
	require.False(t, got.SettledAt.IsZero())

	ttl, err := client.PTTL(ctx, claimPrefix+key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestRedisClaim_Conflicts(t *testing.T) {
	repo, client := liveRedis(t)
	ctx := context.Background()
	key := freshKey(t, client)

	_, err := repo.Claim(ctx, key, "fp-a", time.Time{})
	require.NoError(t, err)

	held, err := repo.Claim(ctx, key, "fp-a", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyClaimed)
	require.Equal(t, "fp-a", held.Fingerprint)

	_, err = repo.Claim(ctx, key, "fp-b", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyFingerprintMismatch)
}

func TestRedisClaim_FailedResponseIsCached(t *testing.T) {
	repo, client := liveRedis(t)
	ctx := context.Background()
	key := freshKey(t, client)

	_, err := repo.Claim(ctx, key, "fp", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Settle(ctx, key, domain.CachedResponse{Status: 409}))

	got, err := repo.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, got.Response.Failed())
	require.Empty(t, got.Response.Body)
}

func TestRedisClaim_MissingAndInvalid(t *testing.T) {
	repo, _ := liveRedis(t)
	ctx := context.Background()

	_, err := repo.Lookup(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	err = repo.Settle(ctx, "missing-"+uuid.NewString(), domain.CachedResponse{Status: 500})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	_, err = repo.Claim(ctx, " ", "fp", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	removed, err := repo.PurgeExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestStoredClaim_ToClaim(t *testing.T) {
	claimed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pending := storedClaim{Fingerprint: "fp", ClaimedAt: claimed}.toClaim("k")
	require.True(t, pending.InFlight())

	settled := storedClaim{Fingerprint: "fp", Status: 200, Body: []byte("{}"), ClaimedAt: claimed, SettledAt: claimed.Add(time.Second)}.toClaim("k")
	require.False(t, settled.InFlight())
	require.Equal(t, "k", settled.Key)
	require.Equal(t, 200, settled.Response.Status)
}
