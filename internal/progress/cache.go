package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultSnapshotTTL    = 5 * time.Minute
	defaultSnapshotPrefix = "progress:snapshot:"
)

// SnapshotCache holds the last fetched snapshot per (student, course) pair.
type SnapshotCache interface {
	Get(ctx context.Context, studentID, courseID string) (Snapshot, bool, error)
	Set(ctx context.Context, studentID, courseID string, snap Snapshot) error
	Invalidate(ctx context.Context, studentID, courseID string) error
}

// cacheKey escapes both parts so the separator never appears inside them and
// distinct pairs never share a key.
func cacheKey(studentID, courseID string) string {
	return url.QueryEscape(studentID) + ":" + url.QueryEscape(courseID)
}

type memoryEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

// MemoryCache is an in-process SnapshotCache with a fixed TTL.
type MemoryCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
	mu      sync.RWMutex
}

// NewMemoryCache creates an in-memory snapshot cache. A non-positive ttl uses the default.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, studentID, courseID string) (Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(studentID, courseID)]
	if !ok || !c.now().Before(e.expiresAt) {
		return Snapshot{}, false, nil
	}
	return e.snap, true, nil
}

func (c *MemoryCache) Set(_ context.Context, studentID, courseID string, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(studentID, courseID)] = memoryEntry{
		snap:      snap,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, studentID, courseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(studentID, courseID))
	return nil
}

// RedisCache is a SnapshotCache backed by Redis/Dragonfly. Snapshots are stored as
// JSON in their wire shape.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CacheOption configures a RedisCache.
type CacheOption func(*RedisCache)

// WithTTL sets how long a cached snapshot stays valid.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) CacheOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a snapshot cache on an existing client.
func NewRedisCache(client *redis.Client, opts ...CacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: defaultSnapshotPrefix,
		ttl:    defaultSnapshotTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(studentID, courseID string) string {
	return c.prefix + cacheKey(studentID, courseID)
}

func (c *RedisCache) Get(ctx context.Context, studentID, courseID string) (Snapshot, bool, error) {
	val, err := c.client.Get(ctx, c.key(studentID, courseID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("get snapshot from redis: %w", err)
	}
	return DecodeSnapshot(val), true, nil
}

func (c *RedisCache) Set(ctx context.Context, studentID, courseID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(studentID, courseID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot in redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, studentID, courseID string) error {
	if err := c.client.Del(ctx, c.key(studentID, courseID)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot in redis: %w", err)
	}
	return nil
}
