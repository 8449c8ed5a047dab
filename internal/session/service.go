package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"Rivalz-Swarm/internal/agent"
	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/storage/mysql"
	"Rivalz-Swarm/pkg/logger"
)

// DefaultIdleTTL 是会话在无活动后被回收的默认时长。
const DefaultIdleTTL = 30 * time.Minute

// Runner 驱动单个会话，由 agent.Dispatcher 实现。
type Runner interface {
	Run(ctx context.Context, s *agent.Session, message string) (*agent.Reply, error)
}

// Result 是一次对话请求的结果。
type Result struct {
	SessionID string `json:"session_id"`
	Created   bool   `json:"created"`
	*agent.Reply
}

// Service 管理进程内的全部会话。
type Service struct {
	runner Runner
	entry  *agent.Agent

	mu       sync.Mutex
	sessions map[string]*agent.Session
	cursors  map[string]*archiveCursor

	kbMu      sync.RWMutex
	defaultKB string

	archive mysql.TranscriptRepository
	idleTTL time.Duration
	gauge   func(int)
	logger  *slog.Logger
	now     func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithIdleTTL 设置会话空闲回收时长，<=0 表示不回收。
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.idleTTL = ttl
	}
}

// WithArchive 配置会话记录归档。
func WithArchive(repo mysql.TranscriptRepository) Option {
	return func(s *Service) {
		s.archive = repo
	}
}

// WithDefaultKnowledgeBase 设置新会话继承的知识库 ID。
func WithDefaultKnowledgeBase(id string) Option {
	return func(s *Service) {
		s.defaultKB = id
	}
}

// WithSessionGauge 在会话数量变化时回调，通常接入指标。
func WithSessionGauge(fn func(int)) Option {
	return func(s *Service) {
		s.gauge = fn
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 创建会话服务，entry 为每个新会话的初始智能体。
func New(runner Runner, entry *agent.Agent, opts ...Option) (*Service, error) {
	if runner == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "未配置会话调度器")
	}
	if entry == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未指定初始智能体")
	}
	s := &Service{
		runner:   runner,
		entry:    entry,
		sessions: make(map[string]*agent.Session),
		cursors:  make(map[string]*archiveCursor),
		idleTTL:  DefaultIdleTTL,
		logger:   logger.Named("session"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// DefaultKnowledgeBase 返回新会话继承的知识库 ID。
func (s *Service) DefaultKnowledgeBase() string {
	s.kbMu.RLock()
	defer s.kbMu.RUnlock()
	return s.defaultKB
}

// SetDefaultKnowledgeBase 更新新会话继承的知识库 ID，已有会话不受影响。
func (s *Service) SetDefaultKnowledgeBase(id string) {
	s.kbMu.Lock()
	s.defaultKB = id
	s.kbMu.Unlock()
	s.logger.Info("默认知识库已更新", slog.String("knowledge_base_id", id))
}

// Open 返回指定会话，不存在时创建。id 为空时生成新的会话 ID。
func (s *Service) Open(id string) (*agent.Session, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return existing, false
	}
	sess := agent.NewSession(id, s.entry, s.DefaultKnowledgeBase())
	s.sessions[id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.reportCount(count)
	s.logger.Debug("创建会话", slog.String("session_id", id))
	return sess, true
}

// Lookup 返回已存在的会话。
func (s *Service) Lookup(id string) (*agent.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Count 返回当前会话数量。
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Chat 将消息交给会话的当前智能体处理，并归档新增的消息。
func (s *Service) Chat(ctx context.Context, sessionID, message string) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}
	sess, created := s.Open(sessionID)
	reply, err := s.runner.Run(ctx, sess, message)
	s.persist(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: sess.ID(), Created: created, Reply: reply}, nil
}

// archiveCursor 记录会话已归档的消息数。base 是该会话实例第一条消息在归档中的 Seq，
// 回收后重新打开的同名会话从归档已有的最大 Seq 之后继续编号。
type archiveCursor struct {
	base     int
	archived int
}

// persist 将尚未归档的消息写入归档仓库，失败只记录日志。
func (s *Service) persist(ctx context.Context, sess *agent.Session) {
	if s.archive == nil {
		return
	}
	id := sess.ID()
	cur, err := s.cursor(ctx, id)
	if err != nil {
		s.logger.Warn("读取会话归档序号失败", slog.String("session_id", id), slog.Any("error", err))
		return
	}
	messages := sess.Messages()

	s.mu.Lock()
	from := cur.archived
	if from >= len(messages) {
		s.mu.Unlock()
		return
	}
	cur.archived = len(messages)
	s.mu.Unlock()

	records := toRecords(id, sess.KnowledgeBaseID(), cur.base+from, messages[from:], s.now().Unix())
	if err := s.archive.Append(ctx, records); err != nil {
		s.logger.Warn("归档会话记录失败",
			slog.String("session_id", id),
			slog.Int("messages", len(records)),
			slog.Any("error", err),
		)
		s.mu.Lock()
		if cur.archived == len(messages) {
			cur.archived = from
		}
		s.mu.Unlock()
	}
}

// cursor 返回会话的归档游标，首次归档时向仓库查询起始序号。
func (s *Service) cursor(ctx context.Context, id string) (*archiveCursor, error) {
	s.mu.Lock()
	cur, ok := s.cursors[id]
	s.mu.Unlock()
	if ok {
		return cur, nil
	}

	base, err := s.archive.NextSeq(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cursors[id]; ok {
		return existing, nil
	}
	cur = &archiveCursor{base: base}
	s.cursors[id] = cur
	return cur, nil
}

// Transcript 返回会话记录。配置了归档时读取归档，否则读取内存中的会话。
func (s *Service) Transcript(ctx context.Context, sessionID string, limit int) ([]mysql.TranscriptRecord, error) {
	if s.archive != nil {
		records, err := s.archive.ListSession(ctx, sessionID, limit)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}
	}
	sess, ok := s.Lookup(sessionID)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "会话 %s 不存在", sessionID)
	}
	messages := sess.Messages()
	if limit > 0 && limit < len(messages) {
		messages = messages[:limit]
	}
	return toRecords(sessionID, sess.KnowledgeBaseID(), 0, messages, 0), nil
}

// Sweep 回收空闲超过 TTL 的会话，返回回收数量。
func (s *Service) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			delete(s.cursors, id)
			removed++
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.reportCount(count)
		s.logger.Info("回收空闲会话", slog.Int("removed", removed), slog.Int("remaining", count))
	}
	return removed
}

// Run 周期性回收空闲会话，直到 ctx 结束。
func (s *Service) Run(ctx context.Context) error {
	if s.idleTTL <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := s.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Service) reportCount(n int) {
	if s.gauge != nil {
		s.gauge(n)
	}
}

func toRecords(sessionID, kbID string, offset int, messages []llm.Message, createdAt int64) []mysql.TranscriptRecord {
	records := make([]mysql.TranscriptRecord, 0, len(messages))
	for i, msg := range messages {
		record := mysql.TranscriptRecord{
			SessionID:       sessionID,
			Seq:             offset + i,
			Role:            msg.Role,
			Sender:          msg.Sender,
			KnowledgeBaseID: kbID,
			Content:         msg.Content,
			ToolName:        msg.ToolName,
			ToolCallID:      msg.ToolCallID,
			CreatedAt:       createdAt,
		}
		for _, call := range msg.ToolCalls {
			record.ToolCalls = append(record.ToolCalls, mysql.ToolCallRecord{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
			})
		}
		records = append(records, record)
	}
	return records
}
