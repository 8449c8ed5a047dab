package agent

import (
	"sync"
	"time"

	"Rivalz-Swarm/internal/llm"
)

// Session 是单个会话的可变状态：当前活跃的智能体、RAG 查询使用的知识库 ID
// 以及只追加的消息记录。Session 实现 tool.Env。
type Session struct {
	id string

	// turnMu 保证同一会话同一时刻只有一个轮次在执行。
	turnMu sync.Mutex

	mu         sync.RWMutex
	active     *Agent
	kbID       string
	messages   []llm.Message
	createdAt  time.Time
	lastActive time.Time
}

// NewSession 创建会话，start 为初始智能体，kbID 可为空。
func NewSession(id string, start *Agent, kbID string) *Session {
	now := time.Now()
	return &Session{id: id, active: start, kbID: kbID, createdAt: now, lastActive: now}
}

func (s *Session) ID() string { return s.id }

// Active 返回当前活跃的智能体。
func (s *Session) Active() *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) activate(next *Agent) {
	s.mu.Lock()
	s.active = next
	s.mu.Unlock()
}

// KnowledgeBaseID 返回当前会话的知识库 ID。
func (s *Session) KnowledgeBaseID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kbID
}

// SetKnowledgeBaseID 更新当前会话的知识库 ID。
func (s *Session) SetKnowledgeBaseID(id string) {
	s.mu.Lock()
	s.kbID = id
	s.mu.Unlock()
}

// Messages 返回消息记录的副本。
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len 返回消息条数。
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Session) append(msgs ...llm.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// restore 将消息截断到前 n 条并恢复活跃智能体。
func (s *Session) restore(n int, active *Agent) {
	s.mu.Lock()
	if n < len(s.messages) {
		clear(s.messages[n:])
		s.messages = s.messages[:n]
	}
	s.active = active
	s.mu.Unlock()
}

// CreatedAt 返回会话创建时间。
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastActive 返回最近一次写入消息的时间。
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}
