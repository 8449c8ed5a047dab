// Package search provides the raw web-search backends behind the network-info
// tool. Backends return the unparsed search output (a JSON list of records);
// validating and filtering that output is the tool's job.
package search

import (
	"context"
	"encoding/json"
)

// Backend 是网络检索后端。
type Backend interface {
	Name() string
	// Search 返回原始检索输出，通常是 Record 列表的 JSON 文本。
	Search(ctx context.Context, query string) (string, error)
}

// Record 是一条检索结果。
type Record struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func encodeRecords(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
