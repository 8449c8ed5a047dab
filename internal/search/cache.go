package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Cache 是检索结果缓存。Redis 实现位于 internal/storage/redis。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Cached 缓存后端输出，缓存故障只记录日志，不影响检索。
type Cached struct {
	inner  Backend
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached 包装 inner。ttl <= 0 时直接返回 inner。
func NewCached(inner Backend, cache Cache, ttl time.Duration, logger *slog.Logger) Backend {
	if cache == nil || ttl <= 0 {
		return inner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Search(ctx context.Context, query string) (string, error) {
	key := cacheKey(c.inner.Name(), query)
	if value, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("读取检索缓存失败", slog.Any("error", err))
	} else if ok {
		return value, nil
	}

	out, err := c.inner.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.logger.Warn("写入检索缓存失败", slog.Any("error", err))
	}
	return out, nil
}

func cacheKey(backend, query string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("search:%s:%x", backend, h.Sum64())
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// DefaultMemoryCacheEntries 是进程内缓存的默认容量。
const DefaultMemoryCacheEntries = 1024

// MemoryCache 是进程内的 TTL 缓存。写入时清理过期项，达到容量时淘汰最早过期的一项。
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	maxEntries int
	sweepEvery time.Duration
	nextSweep  time.Time
	now        func() time.Time
}

// NewMemoryCache 创建进程内缓存，maxEntries<=0 时使用默认容量。
func NewMemoryCache(maxEntries int) *MemoryCache {
	limit := DefaultMemoryCacheEntries
	if maxEntries > 0 {
		limit = maxEntries
	}
	return &MemoryCache{
		items:      make(map[string]memoryItem),
		maxEntries: limit,
		sweepEvery: time.Minute,
		now:        time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if m.now().After(item.expiresAt) {
		delete(m.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	_, exists := m.items[key]
	if now.After(m.nextSweep) || (!exists && len(m.items) >= m.maxEntries) {
		m.sweepLocked(now)
	}
	if !exists && len(m.items) >= m.maxEntries {
		m.evictSoonestLocked()
	}
	m.items[key] = memoryItem{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Len 返回当前缓存项数量，包含尚未清理的过期项。
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryCache) sweepLocked(now time.Time) {
	for key, item := range m.items {
		if now.After(item.expiresAt) {
			delete(m.items, key)
		}
	}
	m.nextSweep = now.Add(m.sweepEvery)
}

func (m *MemoryCache) evictSoonestLocked() {
	var (
		victim string
		first  time.Time
	)
	for key, item := range m.items {
		if victim == "" || item.expiresAt.Before(first) {
			victim, first = key, item.expiresAt
		}
	}
	delete(m.items, victim)
}

var _ Cache = (*MemoryCache)(nil)
