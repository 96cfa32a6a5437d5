package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Namchee/tanyaaja/pkg/models"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisCache wraps go-redis.
type RedisCache struct{ client *redis.Client }

func NewRedisCache(client *redis.Client) *RedisCache { return &RedisCache{client: client} }

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return res, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// MemoryCache is a simple in-memory TTL cache.
type MemoryCache struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memItem
}

type memItem struct {
	value     string
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, items: map[string]memItem{}}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok || !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.items {
		if !now.Before(v.expiresAt) {
			delete(m.items, k)
		}
	}
	m.items[key] = memItem{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// NewCache uses redis when a client is available, memory otherwise.
func NewCache(client *redis.Client) Cache {
	if client != nil {
		return NewRedisCache(client)
	}
	return NewMemoryCache()
}

// CachedDirectory caches positive slug lookups for TTL. Misses always reach
// the underlying directory so a newly created page resolves immediately.
// Cache failures are ignored; the directory stays the source of truth.
type CachedDirectory struct {
	Next   Directory
	Cache  Cache
	TTL    time.Duration
	Prefix string
}

func (d *CachedDirectory) FindBySlug(ctx context.Context, slug string) ([]models.OwnerRecord, error) {
	key := d.Prefix + "owner:" + slug
	if raw, err := d.Cache.Get(ctx, key); err == nil {
		var rec models.OwnerRecord
		if json.Unmarshal([]byte(raw), &rec) == nil && rec.ID != "" {
			return []models.OwnerRecord{rec}, nil
		}
	}
	owners, err := d.Next.FindBySlug(ctx, slug)
	if err != nil || len(owners) == 0 {
		return owners, err
	}
	if raw, err := json.Marshal(owners[0]); err == nil {
		_ = d.Cache.Set(ctx, key, string(raw), d.TTL)
	}
	return owners, nil
}
