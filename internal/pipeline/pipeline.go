// Package pipeline builds the RAG knowledge base the agents query: it uploads
// the PDF documents (and an optional passport image) found in a directory,
// creates a knowledge base from the first PDF, adds the remaining ones and
// waits for the store to report the knowledge base ready.
package pipeline

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/internal/readiness"
	"Rivalz-Swarm/pkg/logger"
)

const (
	// DefaultKnowledgeBaseName 是未指定名称时创建的知识库名称。
	DefaultKnowledgeBaseName = "Multi-Agent RAG Knowledge Base"
	// PassportFile 是目录中可选的证件图片文件名。
	PassportFile = "passport.jpg"
)

// Store 是构建流程所需的知识库写入能力，由 kbstore.Gateway 实现。
type Store interface {
	UploadDocument(ctx context.Context, path string) (*kbstore.UploadReceipt, error)
	UploadPassport(ctx context.Context, path string) (*kbstore.UploadReceipt, error)
	CreateKnowledgeBase(ctx context.Context, path, name string) (*kbstore.KnowledgeBase, error)
	AddDocument(ctx context.Context, path, knowledgeBaseID string) (*kbstore.Document, error)
}

// Waiter 等待知识库就绪，由 readiness.Poller 实现。
type Waiter interface {
	WaitReady(ctx context.Context, id string) (*readiness.Outcome, error)
}

// Request 描述一次构建。空字段使用 Pipeline 的默认值。
type Request struct {
	DocumentsDir      string `json:"documents_dir,omitempty"`
	KnowledgeBaseName string `json:"knowledge_base_name,omitempty"`
}

// Result 汇总构建结果。Ready 为 false 表示等待超时后继续运行。
type Result struct {
	KnowledgeBaseID   string   `json:"knowledge_base_id"`
	KnowledgeBaseName string   `json:"knowledge_base_name"`
	Uploaded          []string `json:"uploaded"`
	PassportUploaded  bool     `json:"passport_uploaded"`
	Documents         []string `json:"documents,omitempty"`
	Ready             bool     `json:"ready"`
	Checks            int      `json:"checks"`
	ElapsedMS         int64    `json:"elapsed_ms"`
}

// Pipeline 执行知识库构建流程。
type Pipeline struct {
	store    Store
	waiter   Waiter
	defaults Request
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Pipeline)

// WithDefaults 设置默认的文档目录与知识库名称。
func WithDefaults(dir, name string) Option {
	return func(p *Pipeline) {
		p.defaults = Request{DocumentsDir: dir, KnowledgeBaseName: name}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New 创建构建流程。
func New(store Store, waiter Waiter, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, waiter: waiter, logger: logger.Named("pipeline")}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Execute 依次上传文档、创建知识库、追加其余文档并等待就绪。知识库服务的错误原样返回；
// 等待超时不视为失败，结果中 Ready 为 false。
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	if p.store == nil || p.waiter == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "知识库构建流程未初始化")
	}
	req = p.resolve(req)
	started := time.Now()

	pdfs, err := findPDFs(req.DocumentsDir)
	if err != nil {
		return nil, err
	}
	result := &Result{KnowledgeBaseName: req.KnowledgeBaseName}

	for _, path := range pdfs {
		if _, err := p.store.UploadDocument(ctx, path); err != nil {
			return nil, err
		}
		result.Uploaded = append(result.Uploaded, filepath.Base(path))
		p.logger.Info("文件上传成功", slog.String("file", filepath.Base(path)))
	}

	passport := filepath.Join(req.DocumentsDir, PassportFile)
	if _, err := os.Stat(passport); err == nil {
		if _, err := p.store.UploadPassport(ctx, passport); err != nil {
			return nil, err
		}
		result.PassportUploaded = true
		p.logger.Info("证件图片上传成功")
	}

	kb, err := p.store.CreateKnowledgeBase(ctx, pdfs[0], req.KnowledgeBaseName)
	if err != nil {
		return nil, err
	}
	if kb == nil || kb.ID == "" {
		return nil, xerrors.New(xerrors.CodeDataShape, "创建知识库未返回 ID")
	}
	result.KnowledgeBaseID = kb.ID
	p.logger.Info("知识库已创建", slog.String("knowledge_base_id", kb.ID))

	for _, path := range pdfs[1:] {
		doc, err := p.store.AddDocument(ctx, path, kb.ID)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			result.Documents = append(result.Documents, doc.ID)
		}
		p.logger.Info("文档已加入知识库", slog.String("file", filepath.Base(path)))
	}

	outcome, err := p.waiter.WaitReady(ctx, kb.ID)
	switch {
	case err == nil:
		result.Ready = true
		result.Checks = outcome.Checks
	case stdErrors.Is(err, readiness.ErrNotReady):
		p.logger.Warn("等待知识库就绪超时，继续运行", slog.String("knowledge_base_id", kb.ID))
	default:
		return nil, err
	}
	result.ElapsedMS = time.Since(started).Milliseconds()
	return result, nil
}

func (p *Pipeline) resolve(req Request) Request {
	if strings.TrimSpace(req.DocumentsDir) == "" {
		req.DocumentsDir = p.defaults.DocumentsDir
	}
	if strings.TrimSpace(req.KnowledgeBaseName) == "" {
		req.KnowledgeBaseName = p.defaults.KnowledgeBaseName
	}
	if req.KnowledgeBaseName == "" {
		req.KnowledgeBaseName = DefaultKnowledgeBaseName
	}
	return req
}

// findPDFs 返回目录下按文件名排序的 PDF 文件。
func findPDFs(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置文档目录")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取文档目录失败", xerrors.WithMetadata("dir", dir))
	}
	var pdfs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		pdfs = append(pdfs, filepath.Join(dir, entry.Name()))
	}
	if len(pdfs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "文档目录中没有 PDF 文件", xerrors.WithMetadata("dir", dir))
	}
	sort.Strings(pdfs)
	return pdfs, nil
}
