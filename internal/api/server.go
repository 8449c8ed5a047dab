package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"Rivalz-Swarm/internal/auth"
	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/observability/metrics"
	"Rivalz-Swarm/internal/pipeline"
	"Rivalz-Swarm/internal/session"
	"Rivalz-Swarm/internal/task"
	"Rivalz-Swarm/internal/toolkit"
	"Rivalz-Swarm/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口，供外部驱动多智能体会话。
type Server struct {
	addr     string
	sessions *session.Service
	store    toolkit.KnowledgeStore
	tasks    *task.Service
	metrics  *metrics.Metrics
	scrape   bool
	limiter  *rate.Limiter
	admin    *auth.Service
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithKnowledgeStore 配置 /query/ 使用的知识库。
func WithKnowledgeStore(store toolkit.KnowledgeStore) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithTaskService 启用构建任务相关接口与健康检查中的构建状态。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) {
		s.tasks = svc
	}
}

// WithMetrics 启用请求指标与 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
		s.scrape = true
	}
}

// WithSeparateMetricsListener 仍记录请求指标，但 /metrics 由独立端口提供。
func WithSeparateMetricsListener() Option {
	return func(s *Server) {
		s.scrape = false
	}
}

// WithChatRateLimit 限制 /chat 的请求速率，perSecond<=0 表示不限流。
func WithChatRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithAdminAuth 为 /api/v1/ 下的管理接口启用密钥校验。
func WithAdminAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.admin = svc
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, sessions *session.Service, opts ...Option) *Server {
	s := &Server{addr: addr, sessions: sessions, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/chat", s.instrument("chat", s.handleChat))
	mux.Handle("/query/", s.instrument("query", s.handleQuery))
	mux.Handle("/healthz", s.instrument("healthz", s.handleHealth))
	mux.Handle("/api/v1/setup", s.adminOnly(s.instrument("setup", s.handleSetup)))
	mux.Handle("/api/v1/setup/", s.adminOnly(s.instrument("setup_detail", s.handleSetupDetail)))
	mux.Handle("/api/v1/sessions/", s.adminOnly(s.instrument("session_messages", s.handleSessionMessages)))
	if s.metrics != nil && s.scrape {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// handleChat 将用户消息交给会话处理并返回回复。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeNotInitialized), "会话服务未初始化")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "请求过于频繁")
		return
	}

	req := chatRequest{
		Message:   r.URL.Query().Get("message"),
		SessionID: r.URL.Query().Get("session_id"),
	}
	var body chatRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	if body.Message != "" {
		req.Message = body.Message
	}
	if body.SessionID != "" {
		req.SessionID = body.SessionID
	}

	result, err := s.sessions.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.logger.Warn("会话处理失败", slog.String("session_id", req.SessionID), slog.Any("error", err))
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	Query           string `json:"query"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
}

type queryResponse struct {
	Query    string   `json:"query"`
	Response string   `json:"response"`
	Context  []string `json:"context"`
}

// handleQuery 在指定或默认知识库上执行一次 RAG 查询。
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}
	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "query 不能为空")
		return
	}

	env := &scopedEnv{kbID: strings.TrimSpace(req.KnowledgeBaseID)}
	if env.kbID == "" && s.sessions != nil {
		env.kbID = s.sessions.DefaultKnowledgeBase()
	}
	result := toolkit.QueryKnowledgeBase(r.Context(), s.store, env, req.Query)
	if !result.OK() {
		message := result.Message()
		if message == "" {
			message = result.Kind()
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": message})
		return
	}

	resp := queryResponse{Query: req.Query, Context: []string{}}
	if answer, ok := result.Payload().(toolkit.RAGAnswer); ok {
		resp.Response = answer.Response
		if answer.Context != nil {
			resp.Context = answer.Context
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type setupStatus struct {
	TaskID          string `json:"task_id,omitempty"`
	Status          string `json:"status"`
	Ready           bool   `json:"ready"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

type healthResponse struct {
	Status         string       `json:"status"`
	ActiveSessions int          `json:"active_sessions"`
	Setup          *setupStatus `json:"setup,omitempty"`
}

// handleHealth 报告服务状态。知识库未就绪时状态为 degraded，但仍返回 200。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	resp := healthResponse{Status: "ok"}
	defaultKB := ""
	if s.sessions != nil {
		resp.ActiveSessions = s.sessions.Count()
		defaultKB = s.sessions.DefaultKnowledgeBase()
	}

	setup := &setupStatus{Status: "not_started", KnowledgeBaseID: defaultKB}
	if s.tasks != nil {
		latest, err := s.tasks.Latest(r.Context())
		switch {
		case err == nil:
			setup.TaskID = latest.ID
			setup.Status = string(latest.Status)
			setup.LastError = latest.LastError
			if latest.Result != nil {
				setup.Ready = latest.Result.Ready
				if latest.Result.KnowledgeBaseID != "" {
					setup.KnowledgeBaseID = latest.Result.KnowledgeBaseID
				}
			}
		case errors.Is(err, task.ErrTaskNotFound):
		default:
			setup.Status = "unknown"
			setup.LastError = err.Error()
		}
	}
	if setup.KnowledgeBaseID == "" || !setup.Ready {
		resp.Status = "degraded"
	}
	resp.Setup = setup
	writeJSON(w, http.StatusOK, resp)
}

// handleSetup 提交或列出知识库构建任务。
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeNotInitialized), "构建任务未启用")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req pipeline.Request
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
			return
		}
		created, err := s.tasks.Submit(r.Context(), req, task.TriggerAPI)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, created)
	case http.MethodGet:
		opts, err := setupListOptions(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		tasks, err := s.tasks.List(r.Context(), opts...)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

// setupListOptions 解析任务列表的查询参数：limit、offset、status（可逗号分隔）、
// since/until（RFC3339 或 Unix 秒）、has_kb、order（asc|desc）与 q。
func setupListOptions(r *http.Request) ([]task.ListOption, error) {
	values := r.URL.Query()
	opts := []task.ListOption{task.WithLimit(queryInt(r, "limit", 20))}

	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是非负整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的任务状态 %q", part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	for key, apply := range map[string]func(time.Time) task.ListOption{
		"since": task.WithUpdatedSince,
		"until": task.WithUpdatedUntil,
	} {
		raw := strings.TrimSpace(values.Get(key))
		if raw == "" {
			continue
		}
		ts, err := parseInstant(raw)
		if err != nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "%s 需为 RFC3339 时间或 Unix 秒", key)
		}
		opts = append(opts, apply(ts))
	}
	if raw := strings.TrimSpace(values.Get("has_kb")); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_kb 需为布尔值")
		}
		opts = append(opts, task.WithResultPresence(has))
	}
	order, ok := task.ParseSortOrder(values.Get("order"))
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 只能是 asc 或 desc")
	}
	opts = append(opts, task.WithSortOrder(order))
	if q := strings.TrimSpace(values.Get("q")); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	return opts, nil
}

func parseInstant(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// handleSetupDetail 返回单个构建任务。
func (s *Server) handleSetupDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeNotInitialized), "构建任务未启用")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/setup/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少任务 ID")
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// handleSessionMessages 返回会话记录，路径形如 /api/v1/sessions/{id}/messages。
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeNotInitialized), "会话服务未初始化")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	id, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "messages" || id == "" {
		writeError(w, http.StatusNotFound, string(xerrors.CodeNotFound), "接口不存在")
		return
	}
	records, err := s.sessions.Transcript(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": records})
}

// scopedEnv 为 /query/ 提供一次性的知识库作用域。
type scopedEnv struct {
	kbID string
}

func (e *scopedEnv) KnowledgeBaseID() string      { return e.kbID }
func (e *scopedEnv) SetKnowledgeBaseID(id string) { e.kbID = id }

// decodeBody 解析 JSON 请求体，空请求体不视为错误。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeErr 根据错误码映射 HTTP 状态。
func writeErr(w http.ResponseWriter, err error) {
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeError(w, xerrors.HTTPStatusOf(err), string(xerrors.CodeOf(err)), message)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
