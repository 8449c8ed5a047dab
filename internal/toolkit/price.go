package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"Rivalz-Swarm/internal/tool"
)

// DefaultPriceURL 是 CoinGecko 简单报价接口。
const DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price"

var symbolToID = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"DOGE":  "dogecoin",
	"BNB":   "binancecoin",
	"ADA":   "cardano",
	"SOL":   "solana",
	"XRP":   "ripple",
	"LTC":   "litecoin",
	"DOT":   "polkadot",
	"MATIC": "polygon",
	"SHIB":  "shiba-inu",
}

// CoinID 将代币符号映射为 CoinGecko ID，未知符号转为小写原样透传。
func CoinID(query string) string {
	if id, ok := symbolToID[strings.ToUpper(query)]; ok {
		return id
	}
	return strings.ToLower(query)
}

// PriceClient 查询美元报价。
type PriceClient struct {
	url        string
	httpClient *http.Client
}

// NewPriceClient 创建报价客户端。
func NewPriceClient(endpoint string, client *http.Client) *PriceClient {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultPriceURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PriceClient{url: endpoint, httpClient: client}
}

// Lookup 返回价格查询的工具结果。
func (c *PriceClient) Lookup(ctx context.Context, query string) tool.Result {
	coinID := CoinID(query)
	params := url.Values{}
	params.Set("ids", coinID)
	params.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+params.Encode(), nil)
	if err != nil {
		return tool.Failure("Network Error", err.Error())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tool.Failure("Network Error", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tool.Failure("Network Error", fmt.Sprintf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), req.URL.String()))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tool.Failure("Network Error", err.Error())
	}

	invalid := tool.Failure("Data Error", fmt.Sprintf("Invalid response for query: %s", query))
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return invalid
	}
	rawQuote, ok := data[coinID]
	if !ok {
		return tool.Success(map[string]string{
			"message": fmt.Sprintf("Unable to retrieve the price for '%s'. Check the cryptocurrency name or symbol.", query),
		})
	}
	var quote map[string]json.RawMessage
	if err := json.Unmarshal(rawQuote, &quote); err != nil {
		return invalid
	}
	rawPrice, ok := quote["usd"]
	if !ok {
		return invalid
	}
	var price float64
	if err := json.Unmarshal(rawPrice, &price); err != nil {
		return invalid
	}
	return tool.Success(map[string]string{
		"message": fmt.Sprintf("The current price of %s is $%.2f USD.", strings.ToUpper(query), price),
	})
}

// NewCryptoPriceTool 创建 crypto_price 工具。
func NewCryptoPriceTool(client *PriceClient) tool.Tool {
	return tool.NewFunc(NameCryptoPrice,
		"Fetch current cryptocurrency prices. Accepts a cryptocurrency name or symbol (e.g., BTC, ETH, Bitcoin).",
		map[string]any{"query": tool.StringParam("The cryptocurrency name or symbol (e.g., BTC, ETH, Bitcoin).")},
		[]string{"query"},
		func(ctx context.Context, _ tool.Env, args tool.Args) tool.Result {
			return client.Lookup(ctx, args.String("query", ""))
		})
}
