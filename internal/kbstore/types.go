package kbstore

import (
	"context"
	"encoding/json"
)

// Status 是知识库的处理状态。除 ready 外的取值都视为未就绪。
type Status string

const (
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// KnowledgeBase 描述远端知识库的基本信息。
type KnowledgeBase struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    Status   `json:"status"`
	Documents []string `json:"documents,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// UnmarshalJSON 兼容使用 _id 作为主键的响应。
func (k *KnowledgeBase) UnmarshalJSON(data []byte) error {
	type plain KnowledgeBase
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*k = KnowledgeBase(aux.plain)
	if k.ID == "" {
		k.ID = aux.MongoID
	}
	return nil
}

// Ready 判断知识库是否可以被检索。
func (k KnowledgeBase) Ready() bool {
	return k.Status == StatusReady
}

// UploadReceipt 是文件上传成功后的回执。
type UploadReceipt struct {
	Hash       string `json:"ipfs_hash"`
	FileName   string `json:"file_name"`
	Size       int64  `json:"size,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// Document 描述知识库中的一篇文档。
type Document struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
	Status          string `json:"status,omitempty"`
}

// ChatResponse 是一次检索增强对话的结果。Response 与 Context 在远端未返回时为 nil。
type ChatResponse struct {
	SessionID string   `json:"session_id"`
	Response  *string  `json:"response"`
	Context   []string `json:"context"`
}

// ChatMessage 是对话会话中的单条消息。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSession 描述远端保存的对话会话。
type ChatSession struct {
	ID              string        `json:"id"`
	KnowledgeBaseID string        `json:"knowledge_base_id"`
	Title           string        `json:"title,omitempty"`
	Messages        []ChatMessage `json:"messages,omitempty"`
}

// UploadHistory 是分页的上传历史。
type UploadHistory struct {
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	Items    []UploadReceipt `json:"items"`
}

// Backend 是知识库服务的原始调用面，Gateway 在其之上增加校验。
type Backend interface {
	UploadFile(ctx context.Context, path string) (*UploadReceipt, error)
	UploadPassport(ctx context.Context, path string) (*UploadReceipt, error)
	DownloadFile(ctx context.Context, hash, destDir string) (string, error)
	DeleteFile(ctx context.Context, hash string) error
	CreateKnowledgeBase(ctx context.Context, path, name string) (*KnowledgeBase, error)
	AddDocument(ctx context.Context, path, knowledgeBaseID string) (*Document, error)
	DeleteDocument(ctx context.Context, documentID, knowledgeBaseID string) error
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)
	GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error)
	CreateChatSession(ctx context.Context, knowledgeBaseID, message, sessionID string) (*ChatResponse, error)
	ListChatSessions(ctx context.Context) ([]ChatSession, error)
	GetChatSession(ctx context.Context, id string) (*ChatSession, error)
	ListUploadedDocuments(ctx context.Context) ([]Document, error)
	UploadHistory(ctx context.Context, page, pageSize int) (*UploadHistory, error)
}
