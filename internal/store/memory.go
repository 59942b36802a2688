package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/models"

	"go.uber.org/zap"
)

const (
	shardCount = 32

	// DefaultCleanupInterval is how often expired tokens are swept.
	DefaultCleanupInterval = time.Minute

	// DefaultRetention is how long an expired or revoked entry is kept after
	// its expiry so lookups still report token_expired.
	DefaultRetention = time.Hour
)

type tokenShard struct {
	mu     sync.RWMutex
	tokens map[string]*models.AccessToken
}

// MemoryTokenStore keeps opaque tokens in sharded maps. Each shard has its
// own lock, so a read only contends with writes to keys in the same shard.
// Expired entries and revoked tombstones are kept for a retention window
// after their expiry, then swept.
type MemoryTokenStore struct {
	shards [shardCount]*tokenShard

	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger
	onSweep   func(int)

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// MemoryOption configures a MemoryTokenStore.
type MemoryOption func(*MemoryTokenStore)

// WithCleanupInterval sets the sweep interval. Zero or negative disables the
// background sweeper.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.cleanupInterval = interval
	}
}

// WithRetention sets how long expired entries outlive their expiry.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.retention = d
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.logger = l
	}
}

// WithSweepHook registers fn to receive the count of each background sweep
// that removed at least one entry.
func WithSweepHook(fn func(removed int)) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.onSweep = fn
	}
}

// NewMemoryTokenStore creates the store and starts the background sweeper.
func NewMemoryTokenStore(opts ...MemoryOption) *MemoryTokenStore {
	s := &MemoryTokenStore{
		retention:       DefaultRetention,
		clock:           clock.System{},
		logger:          zap.NewNop(),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &tokenShard{tokens: make(map[string]*models.AccessToken)}
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	} else {
		close(s.cleanupDone)
	}

	return s
}

func (s *MemoryTokenStore) shard(value string) *tokenShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	return s.shards[h.Sum32()%shardCount]
}

// Put stores tok under tok.Value. A value held by a live entry is rejected,
// and so is a token that has already expired.
func (s *MemoryTokenStore) Put(_ context.Context, tok *models.AccessToken) error {
	sh := s.shard(tok.Value)
	now := s.clock.Now()
	if tok.IsExpired(now) {
		return ErrTokenExpired
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.tokens[tok.Value]; ok && !existing.IsExpired(now) {
		return ErrTokenExists
	}
	sh.tokens[tok.Value] = cloneToken(tok)
	return nil
}

// Get returns the token stored under value. Expired entries are reported as
// ErrTokenExpired until the sweeper removes them after the retention window.
func (s *MemoryTokenStore) Get(_ context.Context, value string) (*models.AccessToken, error) {
	sh := s.shard(value)

	sh.mu.RLock()
	tok, ok := sh.tokens[value]
	sh.mu.RUnlock()

	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.IsExpired(s.clock.Now()) {
		return nil, ErrTokenExpired
	}
	if tok.Revoked {
		return nil, ErrTokenRevoked
	}
	return cloneToken(tok), nil
}

// Revoke marks the token revoked. Revoking an already revoked token is a no-op.
func (s *MemoryTokenStore) Revoke(_ context.Context, value string) error {
	sh := s.shard(value)
	now := s.clock.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	tok, ok := sh.tokens[value]
	if !ok || tok.IsExpired(now) {
		return ErrTokenNotFound
	}
	if tok.Revoked {
		return nil
	}
	revoked := cloneToken(tok)
	revoked.Revoked = true
	sh.tokens[value] = revoked
	return nil
}

// SweepExpired removes entries, including revoked tombstones, whose expiry
// is older than the retention window and returns how many were removed.
func (s *MemoryTokenStore) SweepExpired(_ context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0

	for _, sh := range s.shards {
		// Collect under the read lock, delete under the write lock.
		sh.mu.RLock()
		var expired []string
		for k, v := range sh.tokens {
			if s.evictable(v, now) {
				expired = append(expired, k)
			}
		}
		sh.mu.RUnlock()

		if len(expired) == 0 {
			continue
		}

		sh.mu.Lock()
		for _, k := range expired {
			// Re-check: the value may have been re-issued in between.
			if v, ok := sh.tokens[k]; ok && s.evictable(v, now) {
				delete(sh.tokens, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	return removed, nil
}

func (s *MemoryTokenStore) evictable(tok *models.AccessToken, now time.Time) bool {
	return !now.Before(tok.ExpiresAt.Add(s.retention))
}

// Len returns the number of entries currently held, including expired
// entries not yet swept.
func (s *MemoryTokenStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.tokens)
		sh.mu.RUnlock()
	}
	return n
}

// Close stops the sweeper and waits for it to exit.
func (s *MemoryTokenStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.cleanupDone
	return nil
}

func (s *MemoryTokenStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			n, _ := s.SweepExpired(context.Background())
			if n > 0 {
				s.logger.Debug("swept expired tokens", zap.Int("count", n))
				if s.onSweep != nil {
					s.onSweep(n)
				}
			}
		}
	}
}
