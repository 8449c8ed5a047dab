package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/tool"
)

const (
	// DefaultTVLURL 是 DeFiLlama 全链 TVL 接口。
	DefaultTVLURL = "https://api.llama.fi/v2/chains"
	// DefaultTVLRetries 是传输失败时的最大尝试次数。
	DefaultTVLRetries = 3
)

// ChainTVL 是单条链的锁仓量。
type ChainTVL struct {
	Name        string  `json:"name"`
	TVL         float64 `json:"tvl"`
	TokenSymbol string  `json:"tokenSymbol,omitempty"`
	GeckoID     string  `json:"gecko_id,omitempty"`
}

// TVLClient 拉取全链 TVL。传输失败立即重试，不做退避；数据格式错误不重试。
type TVLClient struct {
	url        string
	retries    int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTVLClient 创建 TVL 客户端。
func NewTVLClient(url string, retries int, client *http.Client, logger *slog.Logger) *TVLClient {
	if strings.TrimSpace(url) == "" {
		url = DefaultTVLURL
	}
	if retries <= 0 {
		retries = DefaultTVLRetries
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TVLClient{url: url, retries: retries, httpClient: client, logger: logger}
}

// FetchChains 返回全部链的 TVL。
func (c *TVLClient) FetchChains(ctx context.Context) ([]ChainTVL, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		chains, err := c.fetchOnce(ctx)
		if err == nil {
			return chains, nil
		}
		if !xerrors.HasCode(err, xerrors.CodeTransport) {
			return nil, err
		}
		lastErr = err
		c.logger.Error("拉取 TVL 失败",
			slog.Int("attempt", attempt),
			slog.Int("retries", c.retries),
			slog.Any("error", err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		"Failed to fetch TVL for all chains after multiple attempts")
}

func (c *TVLClient) fetchOnce(ctx context.Context) ([]ChainTVL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 TVL 请求失败")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "请求 TVL 接口失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, xerrors.New(xerrors.CodeTransport, fmt.Sprintf("TVL 接口返回状态 %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "读取 TVL 响应失败")
	}

	var records []map[string]json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDataShape, err, "TVL 响应不是链记录列表")
	}
	chains := make([]ChainTVL, 0, len(records))
	for idx, record := range records {
		chain, err := decodeChain(record)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDataShape, err, fmt.Sprintf("第 %d 条 TVL 记录格式错误", idx))
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func decodeChain(record map[string]json.RawMessage) (ChainTVL, error) {
	var chain ChainTVL
	rawName, ok := record["name"]
	if !ok {
		return chain, fmt.Errorf("missing name")
	}
	if err := json.Unmarshal(rawName, &chain.Name); err != nil {
		return chain, fmt.Errorf("name: %w", err)
	}
	rawTVL, ok := record["tvl"]
	if !ok {
		return chain, fmt.Errorf("missing tvl")
	}
	if err := json.Unmarshal(rawTVL, &chain.TVL); err != nil {
		return chain, fmt.Errorf("tvl: %w", err)
	}
	if raw, ok := record["tokenSymbol"]; ok {
		_ = json.Unmarshal(raw, &chain.TokenSymbol)
	}
	if raw, ok := record["gecko_id"]; ok {
		_ = json.Unmarshal(raw, &chain.GeckoID)
	}
	return chain, nil
}

// NewMonitorTVLTool 创建 monitor_tvl_changes 工具。
func NewMonitorTVLTool(client *TVLClient) tool.Tool {
	return tool.NewFunc(NameMonitorTVL,
		"Fetch the Total Value Locked (TVL) for all chains using DeFiLlama's /v2/chains endpoint.",
		nil, nil,
		func(ctx context.Context, _ tool.Env, _ tool.Args) tool.Result {
			chains, err := client.FetchChains(ctx)
			if err != nil {
				return tvlFailure(err)
			}
			return tool.Success(chains)
		})
}

func tvlFailure(err error) tool.Result {
	e, _ := xerrors.From(err)
	switch xerrors.CodeOf(err) {
	case xerrors.CodeDataShape:
		return tool.Failure("Data Error", e.Error())
	case xerrors.CodeRetriesExhausted:
		return tool.Failure("TVL Fetch Error", e.Message())
	default:
		return tool.Failure("TVL Fetch Error", err.Error())
	}
}
