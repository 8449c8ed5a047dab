package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	xerrors "Rivalz-Swarm/internal/errors"
)

// Entry 是静态检索源中的一条记录。
type Entry struct {
	Title    string   `json:"title"`
	Link     string   `json:"link"`
	Snippet  string   `json:"snippet"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// Static 通过加载 JSON 文件提供离线检索能力，适合无外网的部署与演示。
type Static struct {
	items      []Entry
	maxResults int
}

// NewStatic 创建静态检索后端。
func NewStatic(items []Entry, maxResults int) *Static {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Static{items: items, maxResults: maxResults}
}

// LoadStatic 从 JSON 文件加载检索条目。
func LoadStatic(path string, maxResults int) (*Static, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "静态检索源路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析静态检索源路径失败")
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取静态检索源失败")
	}
	var entries []Entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析静态检索源失败")
	}
	return NewStatic(entries, maxResults), nil
}

func (s *Static) Name() string { return "static" }

// Search 按关键词与标签做子串匹配。
func (s *Static) Search(_ context.Context, query string) (string, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	results := make([]Record, 0, s.maxResults)
	for _, item := range s.items {
		if !matches(item, query) {
			continue
		}
		results = append(results, Record{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
		if len(results) >= s.maxResults {
			break
		}
	}
	return encodeRecords(results)
}

func matches(entry Entry, query string) bool {
	if len(entry.Keywords) == 0 && len(entry.Tags) == 0 {
		return true
	}
	for _, list := range [][]string{entry.Keywords, entry.Tags} {
		for _, word := range list {
			normalized := strings.ToLower(strings.TrimSpace(word))
			if normalized != "" && strings.Contains(query, normalized) {
				return true
			}
		}
	}
	return false
}

var _ Backend = (*Static)(nil)
