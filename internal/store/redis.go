package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tokengate:token:"

// RedisTokenStore keeps opaque tokens in Redis so several authorization
// server instances can share them. Keys live for the token lifetime plus a
// retention window, so expired and revoked tokens are still recognised for a
// while before Redis evicts them.
type RedisTokenStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	clock     clock.Clock
}

// RedisOption configures a RedisTokenStore.
type RedisOption func(*RedisTokenStore)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisTokenStore) {
		s.prefix = prefix
	}
}

// WithRedisRetention sets how long keys outlive the token they hold.
func WithRedisRetention(d time.Duration) RedisOption {
	return func(s *RedisTokenStore) {
		s.retention = d
	}
}

// WithRedisClock sets the time source used for TTLs and expiry checks.
func WithRedisClock(c clock.Clock) RedisOption {
	return func(s *RedisTokenStore) {
		s.clock = c
	}
}

// ConnectRedis creates a client and verifies the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisTokenStore wraps client. The store takes ownership of client and
// closes it in Close.
func NewRedisTokenStore(client *redis.Client, opts ...RedisOption) *RedisTokenStore {
	s := &RedisTokenStore{
		client:    client,
		prefix:    defaultRedisPrefix,
		retention: DefaultRetention,
		clock:     clock.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisTokenStore) key(value string) string {
	return s.prefix + value
}

// Put stores tok with a TTL of its remaining lifetime plus the retention
// window. An already expired token is rejected with ErrTokenExpired.
func (s *RedisTokenStore) Put(ctx context.Context, tok *models.AccessToken) error {
	ttl := tok.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return ErrTokenExpired
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("redis store: encode token: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(tok.Value), data, ttl+s.retention).Result()
	if err != nil {
		return fmt.Errorf("redis store: put: %w", err)
	}
	if !ok {
		return ErrTokenExists
	}
	return nil
}

// Get returns the token stored under value.
func (s *RedisTokenStore) Get(ctx context.Context, value string) (*models.AccessToken, error) {
	tok, err := s.load(ctx, value)
	if err != nil {
		return nil, err
	}
	if tok.IsExpired(s.clock.Now()) {
		return nil, ErrTokenExpired
	}
	if tok.Revoked {
		return nil, ErrTokenRevoked
	}
	return tok, nil
}

// Revoke rewrites the entry as revoked, keeping its TTL.
func (s *RedisTokenStore) Revoke(ctx context.Context, value string) error {
	tok, err := s.load(ctx, value)
	if err != nil {
		return err
	}
	if tok.IsExpired(s.clock.Now()) {
		return ErrTokenNotFound
	}
	if tok.Revoked {
		return nil
	}

	tok.Revoked = true
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("redis store: encode token: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(value), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("redis store: revoke: %w", err)
	}
	if !ok {
		// Expired between load and write.
		return ErrTokenNotFound
	}
	return nil
}

// SweepExpired is a no-op. Redis evicts keys when their TTL elapses.
func (s *RedisTokenStore) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

// Close closes the underlying client.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}

func (s *RedisTokenStore) load(ctx context.Context, value string) (*models.AccessToken, error) {
	data, err := s.client.Get(ctx, s.key(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get: %w", err)
	}

	var tok models.AccessToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("redis store: decode token: %w", err)
	}
	return &tok, nil
}
