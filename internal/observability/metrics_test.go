package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ObserveEnrichment("completed", time.Second)
	m.SetQueueDepth(map[string]int64{"queued": 1})

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestWriteHTTPExposition(t *testing.T) {
	m := newMetrics()
	m.ObserveAPI("GET", "/api/characters", "200", 30*time.Millisecond)
	m.ObserveAPI("POST", "/api/characters", "500", time.Second)
	m.ObserveAIRequest("openai", "gpt-4o-mini", "ok", 2*time.Second)
	m.ObserveEnrichment("retry", 3*time.Second)
	m.SetQueueDepth(map[string]int64{"queued": 4})

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `kanda_api_requests_total{method="GET",route="/api/characters",status="200"} 1.000000`)
	assert.Contains(t, body, "kanda_api_requests_error_total 1.000000")
	assert.Contains(t, body, `kanda_ai_requests_total{provider="openai",model="gpt-4o-mini",status="ok"} 1.000000`)
	assert.Contains(t, body, `kanda_enrichment_attempts_total{outcome="retry"} 1.000000`)
	assert.Contains(t, body, `kanda_job_queue_depth{status="queued"} 4.000000`)
	assert.Contains(t, body, `kanda_job_queue_depth{status="dead"} 0.000000`)
	assert.True(t, strings.Contains(body, `le="+Inf"`))
}

func TestEscapeLabel(t *testing.T) {
	assert.Equal(t, `a\"b\\c\nd`, escapeLabel("a\"b\\c\nd"))
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(2))
	assert.Equal(t, 0.25, clampRatio(0.25))
}

func TestParseHeaders(t *testing.T) {
	assert.Nil(t, parseHeaders(""))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, parseHeaders("a=1, b=2,bad,=x"))
}
