package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Rivalz-Swarm/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestSelectActionsParsesToolCalls(t *testing.T) {
	var captured struct {
		Authorization string
		Path          string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "checking",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "crypto_price", "arguments": "{\"coin\":\"eth\"}"}
					}]
				}
			}]
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision, err := client.SelectActions(context.Background(), llm.Request{
		Agent:        "Financial Analyst Agent",
		Instructions: "You analyse prices.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "price of eth?"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.Invocation{{ID: "call_0", Name: "monitor_tvl_changes", Arguments: "{}"}}},
			{Role: llm.RoleTool, ToolCallID: "call_0", ToolName: "monitor_tvl_changes", Content: "[]"},
		},
		Tools: []llm.ToolSpec{{Name: "crypto_price", Description: "price", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Content != "checking" || len(decision.Invocations) != 1 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if got := decision.Invocations[0]; got.ID != "call_1" || got.Name != "crypto_price" || got.Arguments != `{"coin":"eth"}` {
		t.Fatalf("unexpected invocation: %+v", got)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if !strings.HasSuffix(captured.Path, "/chat/completions") {
		t.Fatalf("unexpected path %q", captured.Path)
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("expected system + 3 messages, got %d", len(messages))
	}
	if tools, _ := captured.Body["tools"].([]any); len(tools) != 1 {
		t.Fatalf("expected tools to be forwarded, got %v", captured.Body["tools"])
	}
}

func TestSelectActionsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.SelectActions(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}
