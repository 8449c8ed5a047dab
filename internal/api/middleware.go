package api

import (
	"net/http"
	"time"
)

// statusRecorder 记录处理器写出的状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 为处理器记录请求耗时与状态码。
func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(started))
	})
}

// adminOnly 在配置了管理密钥时要求请求携带 Bearer 密钥。
func (s *Server) adminOnly(next http.Handler) http.Handler {
	if !s.admin.Enabled() {
		return next
	}
	return s.admin.Middleware(next)
}
