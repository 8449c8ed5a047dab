package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "Rivalz-Swarm/internal/errors"
)

// DefaultDuckDuckGoURL 是 DuckDuckGo Instant Answer 接口地址。
const DefaultDuckDuckGoURL = "https://api.duckduckgo.com/"

// DuckDuckGo 通过 Instant Answer 接口检索，并将相关主题整理为 Record 列表。
type DuckDuckGo struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewDuckDuckGo 创建 DuckDuckGo 后端。
func NewDuckDuckGo(baseURL string, client *http.Client) *DuckDuckGo {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultDuckDuckGoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DuckDuckGo{baseURL: baseURL, maxResults: 10, httpClient: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Search 查询 DuckDuckGo 并返回 Record 列表的 JSON 文本。
func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建检索请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "请求 DuckDuckGo 失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", xerrors.New(xerrors.CodeTransport,
			fmt.Sprintf("DuckDuckGo 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeDataShape, err, "解析 DuckDuckGo 响应失败")
	}
	return encodeRecords(d.collect(decoded))
}

func (d *DuckDuckGo) collect(resp ddgResponse) []Record {
	records := make([]Record, 0, d.maxResults)
	if resp.AbstractText != "" {
		records = append(records, Record{Title: resp.Heading, Link: resp.AbstractURL, Snippet: resp.AbstractText})
	}
	var walk func([]ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, topic := range topics {
			if len(records) >= d.maxResults {
				return
			}
			if len(topic.Topics) > 0 {
				walk(topic.Topics)
				continue
			}
			if topic.Text == "" {
				continue
			}
			records = append(records, Record{Title: titleOf(topic.Text), Link: topic.FirstURL, Snippet: topic.Text})
		}
	}
	walk(resp.Results)
	walk(resp.RelatedTopics)
	return records
}

// titleOf 取主题文本中破折号之前的部分作为标题。
func titleOf(text string) string {
	if idx := strings.Index(text, " - "); idx > 0 {
		return text[:idx]
	}
	return text
}

var _ Backend = (*DuckDuckGo)(nil)
