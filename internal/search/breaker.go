package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	xerrors "Rivalz-Swarm/internal/errors"
)

// BreakerConfig 配置熔断行为。
type BreakerConfig struct {
	// MaxFailures 为触发熔断的连续失败次数。
	MaxFailures uint32
	// Cooldown 为熔断打开后进入半开状态前的等待时间。
	Cooldown time.Duration
	Interval time.Duration
}

// Breaker 以熔断器保护检索后端，连续失败后快速失败。
type Breaker struct {
	inner   Backend
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreaker 包装 inner。
func NewBreaker(inner Backend, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "search:" + inner.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("检索熔断状态变化",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Name() string { return b.inner.Name() }

func (b *Breaker) Search(ctx context.Context, query string) (string, error) {
	out, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Search(ctx, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "检索后端已熔断",
			xerrors.WithMetadata("backend", b.inner.Name()))
	}
	return out, err
}

// State 返回当前熔断状态。
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

var _ Backend = (*Breaker)(nil)
