package task

import (
	"strings"
	"time"
)

// SortOrder 是列举构建任务时的排序方向，按 UpdatedAt 排序。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的任务在前，为默认值。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的任务在前。
	SortByUpdatedAsc
)

// ParseSortOrder 解析 "desc"/"asc"（也接受 "newest"/"oldest"），空串为默认的 desc。
func ParseSortOrder(raw string) (SortOrder, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "desc", "newest":
		return SortByUpdatedDesc, true
	case "asc", "oldest":
		return SortByUpdatedAsc, true
	default:
		return SortByUpdatedDesc, false
	}
}

// ListOptions 是 /api/v1/setup 列表查询的过滤条件。
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	// UpdatedGTE 与 UpdatedLTE 为 Unix 秒，0 表示不限。
	UpdatedGTE int64
	UpdatedLTE int64
	// HasResult 非 nil 时只返回已经（或尚未）产出知识库的任务。
	HasResult *bool
	Order     SortOrder
	Query     string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = 20
	case opts.Limit > 100:
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量，上限 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 个匹配的任务，用于分页。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只返回处于给定状态的任务，未知状态被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithUpdatedSince 只返回在 ts 及之后更新的任务。零值取消该条件。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只返回在 ts 及之前更新的任务。零值取消该条件。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按任务是否已产出知识库过滤。
func WithResultPresence(hasKnowledgeBase bool) ListOption {
	return func(opts *ListOptions) {
		v := hasKnowledgeBase
		opts.HasResult = &v
	}
}

// WithSortOrder 设置排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在任务 ID、知识库名称与 ID、文档目录和错误信息中做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	seen := make(map[Status]struct{}, len(input))
	var result []Status
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, dup := seen[status]; dup {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	return result
}
