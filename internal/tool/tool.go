// Package tool defines the contract between the dispatcher and the functions
// an agent may call: the Tool interface, the tagged Result union and the
// per-conversation Env every call receives.
package tool

import (
	"context"
	"encoding/json"
)

// Env 是单个会话的作用域，工具通过它读写当前会话的知识库 ID。
type Env interface {
	KnowledgeBaseID() string
	SetKnowledgeBaseID(id string)
}

// Tool 是智能体可调用的函数。Call 不返回 error，所有失败都归一为 Error 结果。
type Tool interface {
	Name() string
	Description() string
	// Parameters 返回 JSON Schema 形式的参数描述。
	Parameters() map[string]any
	Call(ctx context.Context, env Env, args map[string]any) Result
}

// Target 是交接结果携带的下一个智能体。
type Target interface {
	Name() string
}

// Result 是工具调用结果的标签联合：成功载荷或错误，二者互斥。
type Result struct {
	ok      bool
	payload any
	kind    string
	message string
	next    Target
}

// Success 构造成功结果。
func Success(payload any) Result {
	return Result{ok: true, payload: payload}
}

// Failure 构造错误结果。
func Failure(kind, message string) Result {
	return Result{kind: kind, message: message}
}

// Handoff 构造交接结果，成功并携带下一个智能体。
func Handoff(next Target) Result {
	return Result{ok: true, payload: map[string]string{"assistant": next.Name()}, next: next}
}

func (r Result) OK() bool        { return r.ok }
func (r Result) Payload() any    { return r.payload }
func (r Result) Kind() string    { return r.kind }
func (r Result) Message() string { return r.message }

// Next 返回交接目标，非交接结果返回 nil。
func (r Result) Next() Target {
	if !r.ok {
		return nil
	}
	return r.next
}

// IsHandoff 判断结果是否为交接。
func (r Result) IsHandoff() bool {
	return r.Next() != nil
}

// errorBody 是错误结果对模型可见的形态。
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Render 将结果渲染为写入会话的文本。字符串载荷原样返回，其余载荷编码为 JSON。
func (r Result) Render() string {
	if !r.ok {
		encoded, _ := json.Marshal(errorBody{Error: r.kind, Message: r.message})
		return string(encoded)
	}
	if s, ok := r.payload.(string); ok {
		return s
	}
	encoded, err := json.Marshal(r.payload)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// MarshalJSON 使结果可直接作为 API 响应输出。
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.ok {
		return json.Marshal(errorBody{Error: r.kind, Message: r.message})
	}
	return json.Marshal(r.payload)
}
