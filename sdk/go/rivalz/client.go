// Package rivalz is a Go client for the Rivalz-Swarm HTTP API: multi-agent
// chat, direct RAG queries, health, setup jobs and archived transcripts.
package rivalz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Chat turns may run several oracle and tool round trips, hence the margin.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the Rivalz-Swarm REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// ChatRequest is the payload of POST /chat. An empty SessionID starts a new
// conversation.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ToolCall is a function call selected by an agent.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Sender     string     `json:"sender,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ChatReply is the response of POST /chat.
type ChatReply struct {
	SessionID string    `json:"session_id"`
	Created   bool      `json:"created"`
	Agent     string    `json:"agent"`
	Response  string    `json:"response"`
	Messages  []Message `json:"messages"`
	Turns     int       `json:"turns"`
	Truncated bool      `json:"truncated,omitempty"`
}

// QueryRequest is the payload of POST /query/. An empty KnowledgeBaseID
// targets the knowledge base produced by the most recent setup.
type QueryRequest struct {
	Query           string `json:"query"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
}

// QueryResponse is the response of POST /query/.
type QueryResponse struct {
	Query    string   `json:"query"`
	Response string   `json:"response"`
	Context  []string `json:"context"`
}

// SetupStatus describes the latest knowledge base setup as seen by /healthz.
type SetupStatus struct {
	TaskID          string `json:"task_id,omitempty"`
	Status          string `json:"status"`
	Ready           bool   `json:"ready"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// Health is the response of GET /healthz.
type Health struct {
	Status         string       `json:"status"`
	ActiveSessions int          `json:"active_sessions"`
	Setup          *SetupStatus `json:"setup,omitempty"`
}

// Degraded reports whether the service is running without a ready knowledge base.
func (h Health) Degraded() bool { return h.Status != "ok" }

// SetupRequest is the payload of POST /api/v1/setup. Empty fields use the
// daemon's configured defaults.
type SetupRequest struct {
	DocumentsDir      string `json:"documents_dir,omitempty"`
	KnowledgeBaseName string `json:"knowledge_base_name,omitempty"`
}

// SetupResult summarizes a finished setup.
type SetupResult struct {
	KnowledgeBaseID   string   `json:"knowledge_base_id"`
	KnowledgeBaseName string   `json:"knowledge_base_name"`
	Uploaded          []string `json:"uploaded"`
	PassportUploaded  bool     `json:"passport_uploaded"`
	Documents         []string `json:"documents,omitempty"`
	Ready             bool     `json:"ready"`
	Checks            int      `json:"checks"`
	ElapsedMS         int64    `json:"elapsed_ms"`
}

// SetupJob is a queued knowledge base setup.
type SetupJob struct {
	ID         string       `json:"id"`
	Trigger    string       `json:"trigger"`
	Request    SetupRequest `json:"request"`
	Status     string       `json:"status"`
	Attempts   int          `json:"attempts"`
	MaxRetries int          `json:"max_retries"`
	LastError  string       `json:"last_error,omitempty"`
	ErrorCode  string       `json:"error_code,omitempty"`
	Result     *SetupResult `json:"result,omitempty"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at"`
}

// Done reports whether the job will not run again.
func (j SetupJob) Done() bool {
	switch j.Status {
	case "succeeded":
		return true
	case "failed":
		return j.Attempts >= j.MaxRetries
	default:
		return false
	}
}

// TranscriptMessage is one archived conversation entry.
type TranscriptMessage struct {
	SessionID       string     `json:"session_id"`
	Seq             int        `json:"seq"`
	Role            string     `json:"role"`
	Sender          string     `json:"sender,omitempty"`
	KnowledgeBaseID string     `json:"knowledge_base_id,omitempty"`
	Content         string     `json:"content"`
	ToolName        string     `json:"tool_name,omitempty"`
	ToolCallID      string     `json:"tool_call_id,omitempty"`
	ToolCalls       []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt       int64      `json:"created_at,omitempty"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if message == "" {
		message = e.Detail
	}
	if e.Code != "" {
		return fmt.Sprintf("rivalz api error (%d): %s - %s", e.StatusCode, e.Code, message)
	}
	return fmt.Sprintf("rivalz api error (%d): %s", e.StatusCode, message)
}

// NewClient instantiates a client for the Rivalz-Swarm API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the bearer key sent with every request. The daemon only
// checks it on the /api/v1/ administrative routes.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the stored bearer key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Chat sends one user message and returns the agents' reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var reply ChatReply
	if err := c.post(ctx, "/chat", req, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// Query runs a single RAG query outside of any conversation.
func (c *Client) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	if err := c.post(ctx, "/query/", req, &resp); err != nil {
		return QueryResponse{}, err
	}
	return resp, nil
}

// Health fetches the service status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/healthz", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// SubmitSetup queues a knowledge base setup.
func (c *Client) SubmitSetup(ctx context.Context, req SetupRequest) (SetupJob, error) {
	var job SetupJob
	if err := c.post(ctx, "/api/v1/setup", req, &job); err != nil {
		return SetupJob{}, err
	}
	return job, nil
}

// GetSetup fetches a setup job by identifier.
func (c *Client) GetSetup(ctx context.Context, id string) (SetupJob, error) {
	var job SetupJob
	if err := c.get(ctx, "/api/v1/setup/"+id, nil, &job); err != nil {
		return SetupJob{}, err
	}
	return job, nil
}

// SetupFilter narrows ListSetups. Zero fields are not sent.
type SetupFilter struct {
	Limit    int
	Offset   int
	Statuses []string
	// Since and Until bound the job's last update time, inclusive.
	Since time.Time
	Until time.Time
	// HasKnowledgeBase, when set, keeps only jobs that did (or did not) produce a knowledge base.
	HasKnowledgeBase *bool
	// Oldest lists the least recently updated jobs first.
	Oldest bool
	// Query matches job id, knowledge base name or id, documents dir and last error.
	Query string
}

func (f SetupFilter) values() url.Values {
	query := url.Values{}
	if f.Limit > 0 {
		query.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		query.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(f.Statuses) > 0 {
		query.Set("status", strings.Join(f.Statuses, ","))
	}
	if !f.Since.IsZero() {
		query.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		query.Set("until", f.Until.UTC().Format(time.RFC3339))
	}
	if f.HasKnowledgeBase != nil {
		query.Set("has_kb", strconv.FormatBool(*f.HasKnowledgeBase))
	}
	if f.Oldest {
		query.Set("order", "asc")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		query.Set("q", q)
	}
	return query
}

// ListSetups returns setup jobs matching filter, most recently updated first
// unless filter.Oldest is set.
func (c *Client) ListSetups(ctx context.Context, filter SetupFilter) ([]SetupJob, error) {
	var jobs []SetupJob
	if err := c.get(ctx, "/api/v1/setup", filter.values(), &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// WaitForSetup polls a setup job until it is done or ctx ends.
func (c *Client) WaitForSetup(ctx context.Context, id string, interval time.Duration) (SetupJob, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetSetup(ctx, id)
		if err != nil {
			return SetupJob{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Transcript fetches the archived messages of a conversation. limit <= 0
// returns all of them.
func (c *Client) Transcript(ctx context.Context, sessionID string, limit int) ([]TranscriptMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var body struct {
		Messages []TranscriptMessage `json:"messages"`
	}
	endpoint := "/api/v1/sessions/" + sessionID + "/messages"
	if err := c.get(ctx, endpoint, query, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// newRequest keeps trailing slashes in endpoint since /query/ is routed on it.
func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + endpoint
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" && apiErr.Detail == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
