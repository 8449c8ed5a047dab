// Package readiness waits for a remotely managed knowledge base to finish
// indexing. Polling uses a fixed interval and stops at the first ready
// status, at the deadline, or on the first listing error.
package readiness

import (
	"context"
	"log/slog"
	"time"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/pkg/logger"
)

const (
	DefaultInterval = time.Second
	DefaultDeadline = 60 * time.Second
)

// ErrNotReady 表示截止时间内知识库未进入 ready 状态。
var ErrNotReady = xerrors.New(xerrors.CodeTimeout, "knowledge base did not become ready before the deadline")

// Lister 是轮询所需的最小知识库查询能力。
type Lister interface {
	GetKnowledgeBases(ctx context.Context) ([]kbstore.KnowledgeBase, error)
}

// Check 描述单次轮询观察到的状态。
type Check struct {
	Attempt int
	Found   bool
	Status  kbstore.Status
	Elapsed time.Duration
}

// Outcome 是成功等待后的结果。
type Outcome struct {
	KnowledgeBase kbstore.KnowledgeBase
	Checks        int
	Elapsed       time.Duration
}

type clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller 以固定间隔查询知识库列表直到目标就绪。
type Poller struct {
	lister    Lister
	interval  time.Duration
	deadline  time.Duration
	unbounded bool
	onCheck   func(Check)
	clock     clock
	logger    *slog.Logger
}

// Option 定义 Poller 的可选配置。
type Option func(*Poller)

// WithInterval 设置轮询间隔。
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDeadline 设置等待截止时长。
func WithDeadline(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.deadline = d
			p.unbounded = false
		}
	}
}

// WithoutDeadline 显式选择无限等待，只能通过 ctx 取消。
func WithoutDeadline() Option {
	return func(p *Poller) {
		p.unbounded = true
	}
}

// WithCheckHook 在每次检查后回调，用于指标与审计。
func WithCheckHook(fn func(Check)) Option {
	return func(p *Poller) {
		p.onCheck = fn
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

func withClock(c clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// New 创建轮询器，默认间隔 1 秒、截止 60 秒。
func New(lister Lister, opts ...Option) *Poller {
	p := &Poller{
		lister:   lister,
		interval: DefaultInterval,
		deadline: DefaultDeadline,
		clock:    realClock{},
		logger:   logger.Named("readiness"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// MaxChecks 返回有截止时间时最多执行的检查次数，无截止时返回 0。
func (p *Poller) MaxChecks() int {
	if p.unbounded {
		return 0
	}
	return int(p.deadline/p.interval) + 1
}

// WaitReady 等待 id 对应的知识库就绪；id 为空时观察列表中的第一个条目。
// 查询错误立即返回，不做重试。目标条目暂未出现在列表中时视为未就绪。
func (p *Poller) WaitReady(ctx context.Context, id string) (*Outcome, error) {
	if p.lister == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "readiness poller has no knowledge store")
	}
	start := p.clock.Now()
	for attempt := 1; ; attempt++ {
		list, err := p.lister.GetKnowledgeBases(ctx)
		if err != nil {
			return nil, err
		}
		kb, found := pick(list, id)
		elapsed := p.clock.Now().Sub(start)
		check := Check{Attempt: attempt, Found: found, Status: kb.Status, Elapsed: elapsed}
		if p.onCheck != nil {
			p.onCheck(check)
		}
		if found && kb.Ready() {
			p.logger.Info("知识库已就绪",
				slog.String("knowledge_base_id", kb.ID),
				slog.Int("checks", attempt),
				slog.Duration("elapsed", elapsed),
			)
			return &Outcome{KnowledgeBase: kb, Checks: attempt, Elapsed: elapsed}, nil
		}
		p.logger.Debug("知识库尚未就绪",
			slog.String("knowledge_base_id", id),
			slog.String("status", string(kb.Status)),
			slog.Bool("found", found),
			slog.Int("attempt", attempt),
		)
		// 下一次检查会越过截止时间时直接结束。
		if !p.unbounded && elapsed+p.interval > p.deadline {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ErrNotReady, "等待知识库就绪超时",
				xerrors.WithMetadata("knowledge_base_id", id),
				xerrors.WithMetadata("last_status", string(kb.Status)),
			)
		}
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return nil, err
		}
	}
}

func pick(list []kbstore.KnowledgeBase, id string) (kbstore.KnowledgeBase, bool) {
	if id == "" {
		if len(list) == 0 {
			return kbstore.KnowledgeBase{}, false
		}
		return list[0], true
	}
	for _, kb := range list {
		if kb.ID == id {
			return kb, true
		}
	}
	return kbstore.KnowledgeBase{}, false
}
