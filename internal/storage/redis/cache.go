package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/search"
)

// DefaultPrefix 是未指定前缀时使用的键命名空间。
const DefaultPrefix = "rivalz:"

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Cache 以 Redis 字符串键实现 search.Cache。
type Cache struct {
	client *goredis.Client
	prefix string
}

// NewCache 连接 Redis 并创建缓存。
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewCacheWithClient(client, cfg.Prefix), nil
}

// NewCacheWithClient 基于已有客户端创建缓存。
func NewCacheWithClient(client *goredis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{client: client, prefix: prefix}
}

// Key 返回查询在 Redis 中的完整键名，原始键经过哈希。
func (c *Cache) Key(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.prefix + "search:" + hex.EncodeToString(sum[:16])
}

// Get 实现 search.Cache。
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.Key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 缓存失败")
	}
	return value, true, nil
}

// Set 实现 search.Cache。
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.Key(key), value, ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 缓存失败")
	}
	return nil
}

// Ping 检查连接是否可用，供健康检查使用。
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ search.Cache = (*Cache)(nil)
