package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/internal/readiness"
	"Rivalz-Swarm/internal/task"
)

func TestHTTPMetrics(t *testing.T) {
	m := New("test")
	m.ObserveHTTPRequest("/chat", http.MethodPost, 200, 120*time.Millisecond)
	m.ObserveHTTPRequest("/chat", http.MethodPost, 200, 80*time.Millisecond)
	m.ObserveHTTPRequest("/chat", http.MethodPost, 500, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/chat", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/chat", "POST", "500")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpLatency))
}

func TestDispatcherObserver(t *testing.T) {
	m := New("test")
	m.ObserveTurn("Rivalz Triage Agent")
	m.ObserveTurn("Rivalz Triage Agent")
	m.ObserveToolCall("Financial Analyst Agent", "crypto_price", true, 10*time.Millisecond)
	m.ObserveToolCall("Financial Analyst Agent", "crypto_price", false, 10*time.Millisecond)
	m.ObserveHandoff("Rivalz Triage Agent", "Financial Analyst Agent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.agentTurns.WithLabelValues("Rivalz Triage Agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("Financial Analyst Agent", "crypto_price", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handoffs.WithLabelValues("Rivalz Triage Agent", "Financial Analyst Agent")))
}

func TestReadinessAndJobs(t *testing.T) {
	m := New("test")
	m.ObserveReadinessCheck(readiness.Check{Found: true, Status: kbstore.StatusProcessing})
	m.ObserveReadinessCheck(readiness.Check{Found: true, Status: kbstore.StatusReady})
	m.ObserveReadinessCheck(readiness.Check{})
	m.ObserveJob(task.StatusSucceeded, 1, 3*time.Second)
	m.SetActiveSessions(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.readinessChecks.WithLabelValues("missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readinessChecks.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.setupJobs.WithLabelValues("succeeded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sessions))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("")
	m.ObserveTurn("Rivalz Triage Agent")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `rivalz_agent_turns_total{agent="Rivalz Triage Agent"} 1`))
}
