package pipeline

import (
	"context"
	"log/slog"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/pkg/logger"
)

// Lister 列出远端已有的知识库，由 kbstore.Gateway 实现。
type Lister interface {
	GetKnowledgeBases(ctx context.Context) ([]kbstore.KnowledgeBase, error)
}

// Fallback 在构建失败时复用一个已就绪的同名知识库。
type Fallback struct {
	lister      Lister
	defaultName string
}

// NewFallback 创建 Fallback。defaultName 用于请求未指定名称的情况。
func NewFallback(lister Lister, defaultName string) *Fallback {
	if defaultName == "" {
		defaultName = DefaultKnowledgeBaseName
	}
	return &Fallback{lister: lister, defaultName: defaultName}
}

// Recover 查找名称匹配且已就绪的知识库。找不到时返回 nil, nil。
func (f *Fallback) Recover(ctx context.Context, req Request, cause error) (*Result, error) {
	if f == nil || f.lister == nil {
		return nil, nil
	}
	name := req.KnowledgeBaseName
	if name == "" {
		name = f.defaultName
	}
	bases, err := f.lister.GetKnowledgeBases(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "查询已有知识库失败")
	}
	for _, kb := range bases {
		if kb.Name != name || !kb.Ready() || kb.ID == "" {
			continue
		}
		logger.L().Warn("复用已有知识库",
			slog.String("knowledge_base_id", kb.ID),
			slog.String("name", name),
			slog.Any("cause", cause),
		)
		return &Result{
			KnowledgeBaseID:   kb.ID,
			KnowledgeBaseName: kb.Name,
			Documents:         append([]string(nil), kb.Documents...),
			Ready:             true,
		}, nil
	}
	return nil, nil
}
