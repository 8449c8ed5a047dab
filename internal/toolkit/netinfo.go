package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"Rivalz-Swarm/internal/search"
	"Rivalz-Swarm/internal/tool"
)

// DefaultTopicPhrase 是网络信息检索的主题短语。
const DefaultTopicPhrase = "Rivalz AI"

const maxNetworkResults = 3

// NetworkResult 是返回给模型的一条检索结果。
type NetworkResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// NewNetworkInfoTool 创建 rivalz_network_info 工具。
func NewNetworkInfoTool(backend search.Backend, phrase string) tool.Tool {
	return tool.NewFunc(NameNetworkInfo,
		"Perform a search to retrieve information about Rivalz AI and return structured, relevant results.",
		map[string]any{"query": tool.StringParam("The specific query about Rivalz AI.")},
		[]string{"query"},
		func(ctx context.Context, _ tool.Env, args tool.Args) tool.Result {
			return networkInfo(ctx, backend, phrase, args.String("query", ""))
		})
}

func networkInfo(ctx context.Context, backend search.Backend, phrase, query string) tool.Result {
	if backend == nil {
		return tool.Failure("Search Tool Error", "search backend is not configured")
	}
	raw, err := backend.Search(ctx, fmt.Sprintf("%s %s", phrase, query))
	if err != nil {
		return tool.Failure("Search Tool Error", err.Error())
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return tool.Failure("Invalid Response Format", "Could not parse search results into JSON.")
	}
	items, ok := decoded.([]any)
	if !ok {
		return tool.Failure("Unexpected Response Structure", "Results are not in the expected list format.")
	}

	relevant := make([]NetworkResult, 0, maxNetworkResults)
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		result := NetworkResult{
			Title:   field(record, "title", "No Title"),
			URL:     field(record, "link", "No URL"),
			Snippet: field(record, "snippet", "No Snippet"),
		}
		if strings.Contains(result.Title, phrase) || strings.Contains(result.Snippet, phrase) {
			relevant = append(relevant, result)
			if len(relevant) == maxNetworkResults {
				break
			}
		}
	}
	if len(relevant) == 0 {
		return tool.Success(map[string]string{
			"message": fmt.Sprintf("No relevant results found for %s query: '%s'.", phrase, query),
		})
	}
	return tool.Success(map[string]any{"results": relevant})
}

func field(record map[string]any, key, fallback string) string {
	value, ok := record[key]
	if !ok || value == nil {
		return fallback
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
