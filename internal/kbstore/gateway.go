package kbstore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	xerrors "Rivalz-Swarm/internal/errors"
)

// MaxFileSize 是单个上传文件允许的最大字节数。
const MaxFileSize int64 = 10 * 1024 * 1024

var (
	// ErrFileTooLarge 表示文件超过上传上限。
	ErrFileTooLarge = xerrors.New(xerrors.CodeValidation, "file exceeds the 10 MiB upload limit")
	// ErrMissingToken 表示未提供访问知识库所需的密钥。
	ErrMissingToken = xerrors.New(xerrors.CodeConfiguration, "knowledge store secret token is not set")
)

// Gateway 封装知识库服务，只在转发前增加上传大小校验，其余错误原样上抛。
type Gateway struct {
	backend    Backend
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option 定义 Gateway 的可选配置。
type Option func(*Gateway)

// WithBackend 使用自定义后端替代默认的 HTTP 实现。
func WithBackend(b Backend) Option {
	return func(g *Gateway) {
		g.backend = b
	}
}

// WithBaseURL 指定默认 HTTP 后端访问的服务地址。
func WithBaseURL(u string) Option {
	return func(g *Gateway) {
		if u = strings.TrimSpace(u); u != "" {
			g.baseURL = u
		}
	}
}

// WithHTTPClient 为默认 HTTP 后端指定 http.Client。
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithTimeout 设置默认 HTTP 后端的请求超时。
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// New 创建网关。token 为空时返回配置错误。
func New(token string, opts ...Option) (*Gateway, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	g := &Gateway{
		baseURL: DefaultBaseURL,
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.backend == nil {
		client := g.httpClient
		if client == nil {
			client = &http.Client{Timeout: g.timeout}
		}
		g.backend = NewHTTPBackend(g.baseURL, token, client)
	}
	return g, nil
}

// UploadDocument 上传一个文档文件。
func (g *Gateway) UploadDocument(ctx context.Context, path string) (*UploadReceipt, error) {
	if err := checkSize(path); err != nil {
		return nil, err
	}
	return g.backend.UploadFile(ctx, path)
}

// UploadPassport 上传护照图片。
func (g *Gateway) UploadPassport(ctx context.Context, path string) (*UploadReceipt, error) {
	if err := checkSize(path); err != nil {
		return nil, err
	}
	return g.backend.UploadPassport(ctx, path)
}

// Download 将指定哈希的文件下载到目录中，返回写入的文件路径。
func (g *Gateway) Download(ctx context.Context, hash, destDir string) (string, error) {
	if strings.TrimSpace(hash) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "file hash is required")
	}
	return g.backend.DownloadFile(ctx, hash, destDir)
}

// DeleteFile 删除已上传的文件。
func (g *Gateway) DeleteFile(ctx context.Context, hash string) error {
	return g.backend.DeleteFile(ctx, hash)
}

// CreateKnowledgeBase 以给定文档创建知识库。
func (g *Gateway) CreateKnowledgeBase(ctx context.Context, path, name string) (*KnowledgeBase, error) {
	if err := checkSize(path); err != nil {
		return nil, err
	}
	return g.backend.CreateKnowledgeBase(ctx, path, name)
}

// AddDocument 向已有知识库追加文档。
func (g *Gateway) AddDocument(ctx context.Context, path, knowledgeBaseID string) (*Document, error) {
	if err := checkSize(path); err != nil {
		return nil, err
	}
	return g.backend.AddDocument(ctx, path, knowledgeBaseID)
}

// DeleteDocument 从知识库中移除文档。
func (g *Gateway) DeleteDocument(ctx context.Context, documentID, knowledgeBaseID string) error {
	return g.backend.DeleteDocument(ctx, documentID, knowledgeBaseID)
}

// GetKnowledgeBases 列出当前账号下的知识库。
func (g *Gateway) GetKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	return g.backend.ListKnowledgeBases(ctx)
}

// GetKnowledgeBase 查询单个知识库。
func (g *Gateway) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	return g.backend.GetKnowledgeBase(ctx, id)
}

// CreateChatSession 基于知识库发起一次检索问答。sessionID 为空时由远端新建会话。
func (g *Gateway) CreateChatSession(ctx context.Context, knowledgeBaseID, message, sessionID string) (*ChatResponse, error) {
	return g.backend.CreateChatSession(ctx, knowledgeBaseID, message, sessionID)
}

// GetChatSessions 列出远端保存的对话会话。
func (g *Gateway) GetChatSessions(ctx context.Context) ([]ChatSession, error) {
	return g.backend.ListChatSessions(ctx)
}

// GetChatSession 查询单个对话会话。
func (g *Gateway) GetChatSession(ctx context.Context, id string) (*ChatSession, error) {
	return g.backend.GetChatSession(ctx, id)
}

// GetUploadedDocuments 列出已上传到知识库的文档。
func (g *Gateway) GetUploadedDocuments(ctx context.Context) ([]Document, error) {
	return g.backend.ListUploadedDocuments(ctx)
}

// GetUploadHistory 分页查询上传历史。
func (g *Gateway) GetUploadHistory(ctx context.Context, page, pageSize int) (*UploadHistory, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return g.backend.UploadHistory(ctx, page, pageSize)
}

func checkSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法读取待上传文件", xerrors.WithMetadata("path", path))
	}
	if info.IsDir() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 是目录", path))
	}
	if info.Size() > MaxFileSize {
		return xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("file %s is %d bytes, exceeding the 10 MiB upload limit", info.Name(), info.Size()),
			xerrors.WithMetadata("path", path),
		)
	}
	return nil
}
