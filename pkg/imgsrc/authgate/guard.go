package authgate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records consumed signatures so each can be used once.
type ReplayGuard interface {
	// Claim marks signature as used for ttl. It returns false if the
	// signature was already claimed and has not expired.
	Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

// MemoryGuard is an in-process ReplayGuard. Expired entries are pruned on
// each claim so the set stays bounded by the request rate times the window.
type MemoryGuard struct {
	mu      sync.Mutex
	now     func() time.Time
	expires map[string]time.Time
}

// NewMemoryGuard creates an empty in-memory guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		now:     time.Now,
		expires: make(map[string]time.Time),
	}
}

// Claim implements ReplayGuard.
func (m *MemoryGuard) Claim(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for sig, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, sig)
		}
	}

	if _, used := m.expires[signature]; used {
		return false, nil
	}
	m.expires[signature] = now.Add(ttl)
	return true, nil
}

// size returns the number of tracked entries.
func (m *MemoryGuard) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

// DefaultRedisPrefix namespaces guard keys
const DefaultRedisPrefix = "imgsrc:sig:"

// RedisGuard is a ReplayGuard shared by every process pointed at the same
// Redis (or Dragonfly) instance.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
}

// NewRedisGuard creates a guard on an existing client
func NewRedisGuard(client redis.Cmdable, prefix string) (*RedisGuard, error) {
	if client == nil {
		return nil, errors.New("authgate: redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisGuard{client: client, prefix: prefix}, nil
}

// DialRedisGuard parses a redis:// URL, checks the connection and returns a
// guard using it.
func DialRedisGuard(ctx context.Context, redisURL string) (*RedisGuard, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	guard, err := NewRedisGuard(client, DefaultRedisPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return guard, client, nil
}

// Claim implements ReplayGuard with SET NX and an expiry.
func (r *RedisGuard) Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+signature, 1, ttl).Result()
}
