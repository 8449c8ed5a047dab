// Package anthropic adapts the Anthropic Messages API to llm.Oracle.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"Rivalz-Swarm/internal/llm"
)

// DefaultModel 是未配置模型时使用的默认模型。
const DefaultModel = "claude-3-5-sonnet-latest"

// Config 描述 Anthropic 客户端的配置。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client 通过 Messages 接口选择工具调用。
type Client struct {
	client anthropic.Client
	cfg    Config
}

// NewClient 创建 Anthropic 适配器。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("缺少 Anthropic API Key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// SelectActions 实现 llm.Oracle。
func (c *Client) SelectActions(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(c.cfg.Temperature)
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Content) == 0 {
		return nil, llm.ErrNoChoices
	}

	decision := &llm.Decision{}
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if t := block.AsText().Text; t != "" {
				text = append(text, t)
			}
		case "tool_use":
			use := block.AsToolUse()
			args := "{}"
			if use.Input != nil {
				if encoded, err := json.Marshal(use.Input); err == nil {
					args = string(encoded)
				}
			}
			decision.Invocations = append(decision.Invocations, llm.Invocation{ID: use.ID, Name: use.Name, Arguments: args})
		}
	}
	decision.Content = strings.Join(text, "\n")
	return decision, nil
}

// buildMessages 将会话转换为 Anthropic 消息。工具结果以 user 角色回传，
// 相邻的同角色消息会合并为一条，以满足接口的角色交替要求。
func buildMessages(history []llm.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	appendBlocks := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range history {
		switch msg.Role {
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any = map[string]any{}
				if call.Arguments != "" {
					var decoded map[string]any
					if err := json.Unmarshal([]byte(call.Arguments), &decoded); err == nil {
						input = decoded
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks...)
		case llm.RoleTool:
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		default:
			if msg.Content != "" {
				appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(msg.Content))
			}
		}
	}
	return messages
}

func buildTools(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(specs))
	for i, spec := range specs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := spec.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch required := spec.Parameters["required"].(type) {
		case []string:
			schema.Required = required
		case []any:
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if spec.Description != "" {
			tools[i].OfTool.Description = anthropic.String(spec.Description)
		}
	}
	return tools
}

var _ llm.Oracle = (*Client)(nil)
