package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Handler 是 Func 包装的函数签名。
type Handler func(ctx context.Context, env Env, args Args) Result

// Func 以函数实现 Tool。
type Func struct {
	name        string
	description string
	params      map[string]any
	handler     Handler
}

// NewFunc 创建函数型工具。params 为 JSON Schema 的 properties，required 列出必填参数。
func NewFunc(name, description string, properties map[string]any, required []string, handler Handler) *Func {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return &Func{name: name, description: description, params: schema, handler: handler}
}

func (f *Func) Name() string               { return f.name }
func (f *Func) Description() string        { return f.description }
func (f *Func) Parameters() map[string]any { return f.params }

func (f *Func) Call(ctx context.Context, env Env, args map[string]any) Result {
	return f.handler(ctx, env, Args(args))
}

// StringParam 返回字符串参数的 Schema 片段。
func StringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// IntegerParam 返回整数参数的 Schema 片段。
func IntegerParam(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

// Args 是模型传入的参数集合。
type Args map[string]any

// String 读取字符串参数，缺失时返回 fallback。数值会被格式化为字符串。
func (a Args) String(key, fallback string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return fallback
	}
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return fallback
		}
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// Int 读取整数参数，缺失或无法解析时返回 fallback。
func (a Args) Int(key string, fallback int) int {
	switch val := a[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return fallback
}

var _ Tool = (*Func)(nil)
