package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, clk clock.Clock) (*RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisTokenStore(client, WithRedisClock(clk))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisTokenStore_PutGet(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s, mr := newTestRedisStore(t, clock.NewMock(now))

	require.NoError(t, s.Put(ctx, newToken("abc", now, time.Hour)))
	assert.True(t, mr.Exists("tokengate:token:abc"))
	assert.Equal(t, time.Hour+DefaultRetention, mr.TTL("tokengate:token:abc"))

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "client", got.ClientID)
	assert.Equal(t, []string{"read", "write"}, got.Scopes)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	assert.ErrorIs(t, s.Put(ctx, newToken("abc", now, time.Hour)), ErrTokenExists)
}

func TestRedisTokenStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clk := clock.NewMock(now)
	s, mr := newTestRedisStore(t, clk)

	require.NoError(t, s.Put(ctx, newToken("tok", now, time.Minute)))

	// Lazy expiry by clock before Redis has evicted the key.
	clk.Advance(time.Minute)
	_, err := s.Get(ctx, "tok")
	assert.ErrorIs(t, err, ErrTokenExpired)

	// The key outlives the token for the retention window.
	mr.FastForward(time.Minute)
	_, err = s.Get(ctx, "tok")
	assert.ErrorIs(t, err, ErrTokenExpired)

	mr.FastForward(DefaultRetention)
	_, err = s.Get(ctx, "tok")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NotErrorIs(t, err, ErrTokenExpired)

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisTokenStore_PutAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s, mr := newTestRedisStore(t, clock.NewMock(now))

	err := s.Put(ctx, newToken("old", now.Add(-2*time.Hour), time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, mr.Exists("tokengate:token:old"))
}

func TestRedisTokenStore_Revoke(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s, mr := newTestRedisStore(t, clock.NewMock(now))

	require.NoError(t, s.Put(ctx, newToken("tok", now, time.Hour)))
	require.NoError(t, s.Revoke(ctx, "tok"))

	_, err := s.Get(ctx, "tok")
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// TTL preserved so the tombstone disappears with the token's retention.
	assert.Equal(t, time.Hour+DefaultRetention, mr.TTL("tokengate:token:tok"))

	assert.NoError(t, s.Revoke(ctx, "tok"))
	assert.ErrorIs(t, s.Revoke(ctx, "missing"), ErrTokenNotFound)
}

func TestRedisTokenStore_CustomRetention(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisTokenStore(client, WithRedisRetention(5*time.Minute), WithRedisClock(clock.NewMock(now)))
	defer s.Close()

	require.NoError(t, s.Put(ctx, newToken("abc", now, time.Minute)))
	assert.Equal(t, 6*time.Minute, mr.TTL("tokengate:token:abc"))
}

func TestRedisTokenStore_CustomPrefix(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisTokenStore(client, WithRedisPrefix("custom:"), WithRedisClock(clock.NewMock(now)))
	defer s.Close()

	require.NoError(t, s.Put(ctx, newToken("abc", now, time.Hour)))
	assert.True(t, mr.Exists("custom:abc"))
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	client, err = ConnectRedis(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
