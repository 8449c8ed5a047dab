package mysql

import (
	"context"
	"encoding/json"
	"sort"
)

// ToolCallRecord 是助手消息中一次工具调用的归档形式。
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TranscriptRecord 表示会话中的一条消息。Seq 在同一会话内单调递增。
type TranscriptRecord struct {
	SessionID       string           `json:"session_id"`
	Seq             int              `json:"seq"`
	Role            string           `json:"role"`
	Sender          string           `json:"sender,omitempty"`
	KnowledgeBaseID string           `json:"knowledge_base_id,omitempty"`
	Content         string           `json:"content"`
	ToolName        string           `json:"tool_name,omitempty"`
	ToolCallID      string           `json:"tool_call_id,omitempty"`
	ToolCalls       []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt       int64            `json:"created_at"`
}

// TranscriptRepository 抽象会话记录的持久化接口。
type TranscriptRepository interface {
	// Append 追加一批消息，已存在的 (SessionID, Seq) 会被忽略。
	Append(ctx context.Context, records []TranscriptRecord) error
	// ListSession 按 Seq 升序返回会话的消息，limit<=0 表示全部。
	ListSession(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error)
	// NextSeq 返回会话下一条消息应使用的 Seq，会话不存在时为 0。
	NextSeq(ctx context.Context, sessionID string) (int, error)
	Close() error
}

func encodeToolCalls(calls []ToolCallRecord) (any, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(calls)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func sortBySeq(records []TranscriptRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
}
