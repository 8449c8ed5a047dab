package llm

import (
	"context"
	"errors"
)

// 会话消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNoChoices 表示模型没有返回任何候选结果。
var ErrNoChoices = errors.New("模型未返回任何结果")

// Invocation 是模型请求的一次工具调用，Arguments 为原始 JSON 字符串。
type Invocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 是会话记录中的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Sender 记录产生该条助手消息的智能体名称。
	Sender     string       `json:"sender,omitempty"`
	ToolName   string       `json:"tool_name,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	ToolCalls  []Invocation `json:"tool_calls,omitempty"`
}

// ToolSpec 描述模型可见的函数签名。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 是一次推理所需的上下文：当前智能体的指令、会话消息与可用工具。
type Request struct {
	Agent        string
	Instructions string
	Messages     []Message
	Tools        []ToolSpec
}

// Decision 是模型对当前轮次给出的文本回复与工具调用。
type Decision struct {
	Content     string
	Invocations []Invocation
}

// Oracle 定义了调用大模型决策的统一接口。
type Oracle interface {
	SelectActions(ctx context.Context, req Request) (*Decision, error)
}
