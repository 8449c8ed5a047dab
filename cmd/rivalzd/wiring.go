package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"Rivalz-Swarm/internal/config"
	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/llm/anthropic"
	"Rivalz-Swarm/internal/llm/openai"
	"Rivalz-Swarm/internal/search"
	"Rivalz-Swarm/internal/storage/mysql"
	"Rivalz-Swarm/internal/storage/redis"
	"Rivalz-Swarm/internal/task"
	"Rivalz-Swarm/internal/toolkit"
	"Rivalz-Swarm/internal/web3/provider"
	"Rivalz-Swarm/pkg/logger"
)

func createOracle(cfg config.LLMConfig) (llm.Oracle, error) {
	switch cfg.Provider {
	case "openai":
		p := cfg.OpenAI
		return openai.NewClient(openai.Config{
			APIKey:      p.Key(),
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   int64(p.MaxTokens),
			Timeout:     p.Timeout(),
		})
	case "anthropic":
		p := cfg.Anthropic
		return anthropic.NewClient(anthropic.Config{
			APIKey:      p.Key(),
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   int64(p.MaxTokens),
			Timeout:     p.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

func providerTimeout(cfg config.LLMConfig) time.Duration {
	if cfg.Provider == "anthropic" {
		return cfg.Anthropic.Timeout()
	}
	return cfg.OpenAI.Timeout()
}

// createSearchBackend 组装检索后端：熔断包裹外部检索，缓存位于最外层。
func createSearchBackend(ctx context.Context, cfg config.SearchConfig, redisCfg config.RedisConfig, timeout time.Duration) (search.Backend, func(), error) {
	noop := func() {}
	lg := logger.Named("search")

	var backend search.Backend
	switch cfg.Backend {
	case "static":
		static, err := search.LoadStatic(cfg.StaticSource, 0)
		if err != nil {
			return nil, noop, err
		}
		backend = static
	default:
		backend = search.NewBreaker(
			search.NewDuckDuckGo(cfg.BaseURL, &http.Client{Timeout: timeout}),
			search.BreakerConfig{
				MaxFailures: uint32(cfg.BreakerFailures),
				Cooldown:    time.Duration(cfg.BreakerCooldown) * time.Second,
			},
			lg,
		)
	}

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	switch cfg.Cache {
	case "none":
		return backend, noop, nil
	case "redis":
		cache, err := redis.NewCache(ctx, redis.Config{
			Address:  redisCfg.Address,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
			Prefix:   redisCfg.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		return search.NewCached(backend, cache, ttl, lg), func() { _ = cache.Close() }, nil
	default:
		return search.NewCached(backend, search.NewMemoryCache(cfg.CacheMaxEntries), ttl, lg), noop, nil
	}
}

// createChain 在配置了链端点时返回链快照来源，否则返回 nil。
func createChain(ctx context.Context, cfg config.Web3Config) (toolkit.ChainSnapshotter, func(), error) {
	if !cfg.Enabled() {
		return nil, func() {}, nil
	}
	registry, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}
	return registry, registry.Close, nil
}

// createTranscriptArchive 根据驱动创建会话归档，driver 为 none 时返回 nil。
func createTranscriptArchive(ctx context.Context, cfg config.TranscriptConfig, dataDir string) (mysql.TranscriptRepository, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "mysql":
		return mysql.NewSQLTranscriptRepository(ctx, mysqlConfig(cfg))
	default:
		return mysql.NewFileTranscriptRepository(dataDir)
	}
}

// createTaskStore 与会话归档共用同一个存储驱动。
func createTaskStore(ctx context.Context, cfg config.TranscriptConfig) (task.Store, error) {
	if cfg.Driver == "mysql" {
		return task.NewMySQLStore(ctx, cfg.DSN)
	}
	return task.NewMemoryStore(), nil
}

func createTaskQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return task.NewMemoryQueue(64), nil
	}
}

func mysqlConfig(cfg config.TranscriptConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}
