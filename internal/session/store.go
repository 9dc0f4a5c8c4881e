package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/autsav/backgroundRemover/internal/controller"
)

var ErrNotFound = errors.New("session not found")

// Store persists controller snapshots between requests.
type Store interface {
	Load(ctx context.Context, id string) (controller.Snapshot, error)
	Save(ctx context.Context, id string, snap controller.Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	snap      controller.Snapshot
	expiresAt time.Time
}

// MemoryStore keeps snapshots in process. Expired entries read as missing.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, id string) (controller.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return controller.Snapshot{}, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		return controller.Snapshot{}, ErrNotFound
	}
	return e.snap, nil
}

func (m *MemoryStore) Save(_ context.Context, id string, snap controller.Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{snap: snap}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[id] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// Cache abstracts the Redis operations the store needs.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// RedisStore shares snapshots across instances as JSON under session:<id>.
type RedisStore struct {
	cache Cache
}

func NewRedisStore(cache Cache) *RedisStore {
	return &RedisStore{cache: cache}
}

func redisKey(id string) string {
	return "session:" + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (controller.Snapshot, error) {
	raw, err := s.cache.Get(ctx, redisKey(id))
	if errors.Is(err, redis.Nil) {
		return controller.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return controller.Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	var snap controller.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return controller.Snapshot{}, fmt.Errorf("decode session: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, snap controller.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.cache.Set(ctx, redisKey(id), data, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.cache.Del(ctx, redisKey(id))
}
