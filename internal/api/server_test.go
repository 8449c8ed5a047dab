package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rivalz-Swarm/internal/agent"
	"Rivalz-Swarm/internal/auth"
	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/observability/metrics"
	"Rivalz-Swarm/internal/pipeline"
	"Rivalz-Swarm/internal/session"
	"Rivalz-Swarm/internal/task"
)

type echoOracle struct{}

func (echoOracle) SelectActions(_ context.Context, req llm.Request) (*llm.Decision, error) {
	last := req.Messages[len(req.Messages)-1]
	return &llm.Decision{Content: "echo: " + last.Content}, nil
}

type fakeStore struct {
	gotKB    string
	gotQuery string
	err      error
}

func (f *fakeStore) CreateChatSession(_ context.Context, kbID, message, _ string) (*kbstore.ChatResponse, error) {
	f.gotKB, f.gotQuery = kbID, message
	if f.err != nil {
		return nil, f.err
	}
	answer := "Rivalz is a decentralized network"
	return &kbstore.ChatResponse{Response: &answer, Context: []string{"page 1"}}, nil
}

func (f *fakeStore) CreateKnowledgeBase(context.Context, string, string) (*kbstore.KnowledgeBase, error) {
	return nil, errors.New("not supported")
}

func newSessions(t *testing.T, opts ...session.Option) *session.Service {
	t.Helper()
	registry, err := agent.Build(agent.Spec{Name: "Triage Agent", Instructions: "route"})
	require.NoError(t, err)
	svc, err := session.New(agent.NewDispatcher(echoOracle{}), registry.MustGet("Triage Agent"), opts...)
	require.NoError(t, err)
	return svc
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestChatCreatesAndReusesSession(t *testing.T) {
	server := NewServer(":0", newSessions(t))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	first := decode[map[string]any](t, rec)
	assert.Equal(t, "echo: hi", first["response"])
	assert.Equal(t, "Triage Agent", first["agent"])
	sessionID, _ := first["session_id"].(string)
	require.NotEmpty(t, sessionID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat?message=again&session_id="+sessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[map[string]any](t, rec)
	assert.Equal(t, sessionID, second["session_id"])
	assert.Equal(t, false, second["created"])
}

func TestChatErrors(t *testing.T) {
	server := NewServer(":0", newSessions(t), WithChatRateLimit(0.001, 1))
	handler := server.Handler()

	t.Run("method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("empty message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":""}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_ARGUMENT", decode[errorBody](t, rec).Error)
	})

	t.Run("rate limited", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"x"}`)))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestQueryUsesRequestedOrDefaultKnowledgeBase(t *testing.T) {
	store := &fakeStore{}
	server := NewServer(":0", newSessions(t, session.WithDefaultKnowledgeBase("kb-default")), WithKnowledgeStore(store))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/", strings.NewReader(`{"query":"what is rivalz"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[queryResponse](t, rec)
	assert.Equal(t, "what is rivalz", resp.Query)
	assert.Equal(t, "Rivalz is a decentralized network", resp.Response)
	assert.Equal(t, []string{"page 1"}, resp.Context)
	assert.Equal(t, "kb-default", store.gotKB)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/",
		strings.NewReader(`{"query":"q","knowledge_base_id":"kb-explicit"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kb-explicit", store.gotKB)
}

func TestQueryFailures(t *testing.T) {
	t.Run("knowledge base not initialized", func(t *testing.T) {
		server := NewServer(":0", newSessions(t), WithKnowledgeStore(&fakeStore{}))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/", strings.NewReader(`{"query":"q"}`)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Knowledge base not initialized", decode[map[string]string](t, rec)["detail"])
	})

	t.Run("rag error", func(t *testing.T) {
		store := &fakeStore{err: errors.New("upstream 502")}
		server := NewServer(":0", newSessions(t), WithKnowledgeStore(store))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/",
			strings.NewReader(`{"query":"q","knowledge_base_id":"kb"}`)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["detail"], "upstream 502")
	})

	t.Run("missing query", func(t *testing.T) {
		server := NewServer(":0", newSessions(t), WithKnowledgeStore(&fakeStore{}))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthReportsSetupGap(t *testing.T) {
	store := task.NewMemoryStore()
	tasks := task.NewService(store, task.NewMemoryQueue(1), 1)
	sessions := newSessions(t)
	server := NewServer(":0", sessions, WithTaskService(tasks))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "degraded", health.Status)
	require.NotNil(t, health.Setup)
	assert.Equal(t, "not_started", health.Setup.Status)

	require.NoError(t, store.Create(context.Background(), &task.Task{
		ID:         "setup-1",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 1,
		Result:     &pipeline.Result{KnowledgeBaseID: "kb-1", Ready: true},
	}))
	sessions.SetDefaultKnowledgeBase("kb-1")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	health = decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "setup-1", health.Setup.TaskID)
	assert.Equal(t, "kb-1", health.Setup.KnowledgeBaseID)
	assert.True(t, health.Setup.Ready)
}

func TestSetupEndpoints(t *testing.T) {
	queue := task.NewMemoryQueue(4)
	tasks := task.NewService(task.NewMemoryStore(), queue, 1)
	server := NewServer(":0", newSessions(t), WithTaskService(tasks))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/setup",
		strings.NewReader(`{"documents_dir":"/data/docs"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decode[task.Task](t, rec)
	assert.Equal(t, task.TriggerAPI, created.Trigger)
	assert.Equal(t, "/data/docs", created.Request.DocumentsDir)
	assert.Equal(t, 1, queue.Len())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/setup/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[task.Task](t, rec).ID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/setup?status=pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]task.Task](t, rec), 1)

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/setup/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/setup?status=bogus", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewServer(":0", newSessions(t)).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestSetupListFilters(t *testing.T) {
	tasks := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(8), 1)
	// 提交顺序与 ID 顺序一致，跨秒提交时排序结果不变。
	for _, id := range []string{"api-b", "api-c", "startup-a"} {
		_, err := tasks.Submit(context.Background(), pipeline.Request{KnowledgeBaseName: "kb-" + id}, task.TriggerAPI, task.WithTaskID(id))
		require.NoError(t, err)
	}
	handler := NewServer(":0", newSessions(t), WithTaskService(tasks)).Handler()

	list := func(t *testing.T, query string) []task.Task {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/setup?"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[[]task.Task](t, rec)
	}
	ids := func(jobs []task.Task) []string {
		out := make([]string, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, j.ID)
		}
		return out
	}
	hourAhead := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)

	assert.ElementsMatch(t, []string{"api-b", "api-c"}, ids(list(t, "q=API")))
	assert.Equal(t, []string{"startup-a"}, ids(list(t, "limit=1")))
	assert.Equal(t, []string{"api-c"}, ids(list(t, "limit=1&offset=1")))
	assert.Equal(t, []string{"api-b"}, ids(list(t, "limit=1&order=asc")))
	assert.Len(t, list(t, "has_kb=false&status=pending,running"), 3)
	assert.Empty(t, list(t, "has_kb=true"))
	assert.Empty(t, list(t, "since="+hourAhead))
	assert.Len(t, list(t, "until="+hourAhead), 3)
	assert.Len(t, list(t, "since="+url.QueryEscape(time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))), 3)
	assert.Empty(t, list(t, "offset=5"))

	for _, query := range []string{"offset=-1", "since=yesterday", "until=x", "has_kb=maybe", "order=sideways", "status=pending,bogus"} {
		t.Run(query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/setup?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(xerrors.CodeInvalidArgument), decode[errorBody](t, rec).Error)
		})
	}
}

func TestSessionMessages(t *testing.T) {
	sessions := newSessions(t)
	_, err := sessions.Chat(context.Background(), "s-1", "hello")
	require.NoError(t, err)
	handler := NewServer(":0", sessions).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	messages, _ := body["messages"].([]any)
	assert.Len(t, messages, 2)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/unknown/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointRecordsRequests(t *testing.T) {
	m := metrics.New("apitest")
	handler := NewServer(":0", newSessions(t), WithMetrics(m)).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `apitest_http_requests_total{code="200",handler="healthz",method="GET"} 1`)
}

func TestSeparateMetricsListenerHidesRoute(t *testing.T) {
	m := metrics.New("apisplit")
	handler := NewServer(":0", newSessions(t), WithMetrics(m), WithSeparateMetricsListener()).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `apisplit_http_requests_total{code="200",handler="healthz",method="GET"} 1`)
}

func TestStartStopsOnCancel(t *testing.T) {
	server := NewServer("127.0.0.1:0", newSessions(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAdminRoutesRequireKeyWhenConfigured(t *testing.T) {
	tasks := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(4), 1)
	guard := auth.New([]auth.Key{{Name: "ops", Secret: "k1"}})
	handler := NewServer(":0", newSessions(t), WithTaskService(tasks), WithAdminAuth(guard)).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
