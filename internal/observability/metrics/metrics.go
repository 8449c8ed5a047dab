// Package metrics exposes Prometheus collectors for the HTTP boundary, the
// agent dispatcher, the readiness poller and the setup-job processor. Every
// Metrics value owns its own registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Rivalz-Swarm/internal/readiness"
	"Rivalz-Swarm/internal/task"
)

// Metrics groups the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	agentTurns  *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	handoffs    *prometheus.CounterVec

	readinessChecks *prometheus.CounterVec

	setupJobs     *prometheus.CounterVec
	setupDuration prometheus.Histogram

	sessions prometheus.Gauge
}

// New registers every collector under namespace (defaults to "rivalz").
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rivalz"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"handler", "method"}),
		agentTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Oracle turns taken, labelled by the active agent.",
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by agent, tool and outcome.",
		}, []string{"agent", "tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "handoffs_total",
			Help:      "Agent handoffs by source and target.",
		}, []string{"from", "to"}),
		readinessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "checks_total",
			Help:      "Knowledge base readiness checks by observed status.",
		}, []string{"status"}),
		setupJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setup",
			Name:      "jobs_total",
			Help:      "Finished knowledge base setup jobs by final status.",
		}, []string{"status"}),
		setupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "setup",
			Name:      "job_duration_seconds",
			Help:      "Duration of the last attempt of each finished setup job.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Conversations currently held in memory.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatency,
		m.agentTurns, m.toolCalls, m.toolLatency, m.handoffs,
		m.readinessChecks,
		m.setupJobs, m.setupDuration,
		m.sessions,
	)
	return m
}

// Registry returns the registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTPRequest records one finished HTTP request.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTurn implements agent.Observer.
func (m *Metrics) ObserveTurn(agent string) {
	m.agentTurns.WithLabelValues(agent).Inc()
}

// ObserveToolCall implements agent.Observer.
func (m *Metrics) ObserveToolCall(agent, tool string, ok bool, elapsed time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(agent, tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveHandoff implements agent.Observer.
func (m *Metrics) ObserveHandoff(from, to string) {
	m.handoffs.WithLabelValues(from, to).Inc()
}

// ObserveReadinessCheck is suitable for readiness.WithCheckHook.
func (m *Metrics) ObserveReadinessCheck(check readiness.Check) {
	status := string(check.Status)
	if !check.Found {
		status = "missing"
	}
	m.readinessChecks.WithLabelValues(status).Inc()
}

// ObserveJob implements task.Observer.
func (m *Metrics) ObserveJob(status task.Status, _ int, elapsed time.Duration) {
	m.setupJobs.WithLabelValues(string(status)).Inc()
	m.setupDuration.Observe(elapsed.Seconds())
}

// SetActiveSessions reports the number of live conversations.
func (m *Metrics) SetActiveSessions(n int) {
	m.sessions.Set(float64(n))
}

// StartServer serves /metrics on a dedicated listener until ctx ends.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
