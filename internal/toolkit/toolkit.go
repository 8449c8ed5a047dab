// Package toolkit implements the functions the Rivalz agents can call:
// network-info search, TVL monitoring, price lookup, the mocked on-chain and
// notify actions, and the RAG knowledge-base tools. Every tool normalizes its
// failures into tool.Result errors and never panics or returns a Go error.
package toolkit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/internal/search"
	"Rivalz-Swarm/internal/tool"
	"Rivalz-Swarm/internal/web3"
	"Rivalz-Swarm/pkg/logger"
)

// 工具名称，对模型可见。
const (
	NameNetworkInfo = "rivalz_network_info"
	NameMonitorTVL  = "monitor_tvl_changes"
	NameCryptoPrice = "crypto_price"
	NameOnChain     = "process_onchain_request"
	NameNotify      = "notify_rivalz_agents"
	NameQueryRAG    = "query_rag_knowledge_base"
	NameCreateKB    = "create_rag_knowledge_base"
)

// KnowledgeStore 是 RAG 工具依赖的知识库能力，由 kbstore.Gateway 实现。
type KnowledgeStore interface {
	CreateChatSession(ctx context.Context, knowledgeBaseID, message, sessionID string) (*kbstore.ChatResponse, error)
	CreateKnowledgeBase(ctx context.Context, path, name string) (*kbstore.KnowledgeBase, error)
}

// ChainSnapshotter 为链上工具提供网络快照，可为空。
type ChainSnapshotter interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Dependencies 汇总构建工具集所需的外部依赖。
type Dependencies struct {
	Store       KnowledgeStore
	Search      search.Backend
	Chain       ChainSnapshotter
	HTTPClient  *http.Client
	TopicPhrase string
	TVLURL      string
	TVLRetries  int
	PriceURL    string
	Logger      *slog.Logger
}

// Toolkit 持有全部工具实例。
type Toolkit struct {
	NetworkInfo tool.Tool
	MonitorTVL  tool.Tool
	CryptoPrice tool.Tool
	OnChain     tool.Tool
	Notify      tool.Tool
	QueryRAG    tool.Tool
	CreateKB    tool.Tool
}

// New 根据依赖构建工具集，未提供的字段使用默认值。
func New(deps Dependencies) *Toolkit {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Named("toolkit")
	}
	if deps.TopicPhrase == "" {
		deps.TopicPhrase = DefaultTopicPhrase
	}

	tvl := NewTVLClient(deps.TVLURL, deps.TVLRetries, deps.HTTPClient, deps.Logger)
	price := NewPriceClient(deps.PriceURL, deps.HTTPClient)

	return &Toolkit{
		NetworkInfo: NewNetworkInfoTool(deps.Search, deps.TopicPhrase),
		MonitorTVL:  NewMonitorTVLTool(tvl),
		CryptoPrice: NewCryptoPriceTool(price),
		OnChain:     NewOnChainTool(deps.Chain, deps.Logger),
		Notify:      NewNotifyTool(deps.Logger),
		QueryRAG:    NewQueryRAGTool(deps.Store),
		CreateKB:    NewCreateKBTool(deps.Store),
	}
}

// All 返回全部工具。
func (k *Toolkit) All() []tool.Tool {
	return []tool.Tool{k.NetworkInfo, k.MonitorTVL, k.CryptoPrice, k.OnChain, k.Notify, k.QueryRAG, k.CreateKB}
}
