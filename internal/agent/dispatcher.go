package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/tool"
	"Rivalz-Swarm/pkg/logger"
)

// DefaultMaxTurns 是单次 Run 中允许的最大模型调用次数。
const DefaultMaxTurns = 10

// Observer 接收调度过程中的事件，用于指标采集。
type Observer interface {
	ObserveTurn(agent string)
	ObserveToolCall(agent, tool string, ok bool, elapsed time.Duration)
	ObserveHandoff(from, to string)
}

// Dispatcher 驱动会话的轮次循环。
type Dispatcher struct {
	oracle     llm.Oracle
	maxTurns   int
	llmTimeout time.Duration
	observer   Observer
	logger     *slog.Logger
}

// Option 定义可选的调度器配置。
type Option func(*Dispatcher)

// WithMaxTurns 设置单次 Run 的最大轮数。
func WithMaxTurns(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTurns = n
		}
	}
}

// WithLLMTimeout 设置每次调用模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout < 0 {
			timeout = 0
		}
		d.llmTimeout = timeout
	}
}

// WithObserver 注入事件观察者。
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher 创建调度器。
func NewDispatcher(oracle llm.Oracle, opts ...Option) *Dispatcher {
	d := &Dispatcher{oracle: oracle, maxTurns: DefaultMaxTurns, logger: logger.Named("dispatcher")}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Reply 汇总一次 Run 的结果。
type Reply struct {
	// Agent 为本次运行结束后活跃的智能体。
	Agent string `json:"agent"`
	// Content 为最后一条助手文本回复。
	Content string `json:"response"`
	// Messages 为本次运行新增的消息，不含用户输入。
	Messages []llm.Message `json:"messages"`
	Turns    int           `json:"turns"`
	// Truncated 表示达到最大轮数后被截断。
	Truncated bool `json:"truncated,omitempty"`
}

// Run 追加一条用户消息并驱动会话，直到模型不再选择任何工具或达到最大轮数。
// 同一轮中的调用按模型给出的顺序执行，交接在该轮全部调用执行完后才生效。
// 模型调用失败时会话回到运行前的消息与活跃智能体，调用方可以原样重试；
// 已执行工具的外部副作用（例如写入会话的知识库 ID）不会撤销。
func (d *Dispatcher) Run(ctx context.Context, s *Session, message string) (*Reply, error) {
	if d == nil || d.oracle == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "未配置大模型决策器")
	}
	if s == nil || s.Active() == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "会话未初始化")
	}
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	start := s.Len()
	startAgent := s.Active()
	s.append(llm.Message{Role: llm.RoleUser, Content: message})
	reply := &Reply{}

	for reply.Turns < d.maxTurns {
		current := s.Active()
		reply.Turns++
		if d.observer != nil {
			d.observer.ObserveTurn(current.Name())
		}

		decision, err := d.selectActions(ctx, current, s.Messages())
		if err != nil {
			s.restore(start, startAgent)
			return nil, err
		}
		if decision.Content != "" || len(decision.Invocations) > 0 {
			s.append(llm.Message{
				Role:      llm.RoleAssistant,
				Content:   decision.Content,
				Sender:    current.Name(),
				ToolCalls: decision.Invocations,
			})
		}
		if decision.Content != "" {
			reply.Content = decision.Content
		}
		if len(decision.Invocations) == 0 {
			break
		}

		var next *Agent
		for _, call := range decision.Invocations {
			result := d.invoke(ctx, s, current, call)
			if target, ok := result.Next().(*Agent); ok && target != nil {
				next = target
			}
			s.append(llm.Message{
				Role:       llm.RoleTool,
				Content:    result.Render(),
				ToolName:   call.Name,
				ToolCallID: call.ID,
			})
		}
		if next != nil && next != current {
			s.activate(next)
			d.logger.Info("会话交接",
				slog.String("session_id", s.ID()),
				slog.String("from", current.Name()),
				slog.String("to", next.Name()),
			)
			if d.observer != nil {
				d.observer.ObserveHandoff(current.Name(), next.Name())
			}
		}
		if reply.Turns == d.maxTurns {
			reply.Truncated = true
			d.logger.Warn("达到最大轮数，提前结束", slog.String("session_id", s.ID()), slog.Int("max_turns", d.maxTurns))
		}
	}

	all := s.Messages()
	reply.Messages = all[start+1:]
	reply.Agent = s.Active().Name()
	return reply, nil
}

func (d *Dispatcher) selectActions(ctx context.Context, current *Agent, messages []llm.Message) (*llm.Decision, error) {
	callCtx := ctx
	if d.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.llmTimeout)
		defer cancel()
	}
	decision, err := d.oracle.SelectActions(callCtx, llm.Request{
		Agent:        current.Name(),
		Instructions: current.Instructions(),
		Messages:     messages,
		Tools:        current.ToolSpecs(),
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型推理失败")
	}
	if decision == nil {
		return &llm.Decision{}, nil
	}
	return decision, nil
}

func (d *Dispatcher) invoke(ctx context.Context, s *Session, current *Agent, call llm.Invocation) tool.Result {
	started := time.Now()
	result := d.execute(ctx, s, current, call)
	if d.observer != nil {
		d.observer.ObserveToolCall(current.Name(), call.Name, result.OK(), time.Since(started))
	}
	if !result.OK() {
		d.logger.Warn("工具调用失败",
			slog.String("session_id", s.ID()),
			slog.String("agent", current.Name()),
			slog.String("tool", call.Name),
			slog.String("kind", result.Kind()),
			slog.String("message", result.Message()),
		)
	}
	return result
}

func (d *Dispatcher) execute(ctx context.Context, s *Session, current *Agent, call llm.Invocation) tool.Result {
	t, ok := current.Tool(call.Name)
	if !ok {
		return tool.Failure("Unknown Tool", "tool "+call.Name+" is not available to "+current.Name())
	}
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return tool.Failure("Invalid Arguments", err.Error())
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	return t.Call(ctx, s, args)
}
