package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	var b strings.Builder
	buf := make([]byte, 64*1024)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return b.String()
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := New()
	m.ObserveRun("completed", 1.2)
	m.ObserveRun("failed", 0.4)
	m.ObserveNode("fetch", true, 0.1)
	m.ObserveNode("fetch", false, 0.2)
	m.ObserveRetry("fetch")
	m.ObserveTokens("g1", 128)
	m.ObserveTest(true, "")
	m.ObserveTest(false, "edge_case")

	body := scrape(t, m)
	assert.Contains(t, body, `agentgraph_runs_total{status="completed"} 1`)
	assert.Contains(t, body, `agentgraph_runs_total{status="failed"} 1`)
	assert.Contains(t, body, `agentgraph_node_executions_total{node="fetch",outcome="success"} 1`)
	assert.Contains(t, body, `agentgraph_node_retries_total{node="fetch"} 1`)
	assert.Contains(t, body, `agentgraph_tokens_total{goal="g1"} 128`)
	assert.Contains(t, body, `agentgraph_tests_total{category="edge_case",outcome="failed"} 1`)
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ObserveRun("completed", 0.1)

	assert.NotContains(t, scrape(t, b), `agentgraph_runs_total{status="completed"} 1`)
}
