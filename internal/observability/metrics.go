package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

type Metrics struct {
	apiRequests    *CounterVec
	apiLatency     *HistogramVec
	apiInflight    *Gauge
	apiReqError    *Counter
	aiRequests     *CounterVec
	aiLatency      *HistogramVec
	enrichAttempts *CounterVec
	enrichLatency  *HistogramVec
	jobDuration    *HistogramVec
	queueDepth     *GaugeVec
	tokenStoreSize *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process metrics, or nil when metrics are disabled.
// Every method is safe on a nil receiver.
func Current() *Metrics {
	return instance
}

func Init(enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("kanda_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"kanda_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		),
		apiInflight: NewGauge("kanda_api_inflight_requests", "In-flight API requests."),
		apiReqError: NewCounter("kanda_api_requests_error_total", "Total API requests with 5xx status."),
		aiRequests:  NewCounterVec("kanda_ai_requests_total", "AI completion requests by provider/model/status.", []string{"provider", "model", "status"}),
		aiLatency: NewHistogramVec(
			"kanda_ai_request_duration_seconds",
			"AI completion latency in seconds by provider/model/status.",
			[]string{"provider", "model", "status"},
			[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		enrichAttempts: NewCounterVec("kanda_enrichment_attempts_total", "Character enrichment attempts by outcome.", []string{"outcome"}),
		enrichLatency: NewHistogramVec(
			"kanda_enrichment_attempt_duration_seconds",
			"Character enrichment attempt duration in seconds by outcome.",
			[]string{"outcome"},
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		),
		jobDuration: NewHistogramVec(
			"kanda_worker_job_duration_seconds",
			"Worker job duration in seconds by job_type/status.",
			[]string{"job_type", "status"},
			[]float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		),
		queueDepth:     NewGaugeVec("kanda_job_queue_depth", "Job rows by status.", []string{"status"}),
		tokenStoreSize: NewGauge("kanda_token_store_entries", "Live entries in the in-memory token store."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.writeAll(w)
}

func (m *Metrics) writeAll(w http.ResponseWriter) error {
	for _, fn := range []func() error{
		func() error { return m.apiRequests.WritePrometheus(w) },
		func() error { return m.apiLatency.WritePrometheus(w) },
		func() error { return m.apiInflight.WritePrometheus(w) },
		func() error { return m.apiReqError.WritePrometheus(w) },
		func() error { return m.aiRequests.WritePrometheus(w) },
		func() error { return m.aiLatency.WritePrometheus(w) },
		func() error { return m.enrichAttempts.WritePrometheus(w) },
		func() error { return m.enrichLatency.WritePrometheus(w) },
		func() error { return m.jobDuration.WritePrometheus(w) },
		func() error { return m.queueDepth.WritePrometheus(w) },
		func() error { return m.tokenStoreSize.WritePrometheus(w) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAIRequest(provider, model, status string, dur time.Duration) {
	if m == nil {
		return
	}
	provider = orUnknown(provider)
	model = orUnknown(model)
	status = orUnknown(status)
	m.aiRequests.Inc(provider, model, status)
	if dur > 0 {
		m.aiLatency.Observe(dur.Seconds(), provider, model, status)
	}
}

// ObserveEnrichment records one pipeline attempt. outcome is one of
// completed, retry, failed, deferred or skipped.
func (m *Metrics) ObserveEnrichment(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	outcome = orUnknown(outcome)
	m.enrichAttempts.Inc(outcome)
	m.enrichLatency.Observe(dur.Seconds(), outcome)
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(dur.Seconds(), orUnknown(jobType), orUnknown(status))
}

// SetQueueDepth replaces the queue depth gauges. Statuses missing from
// counts are reset to zero.
func (m *Metrics) SetQueueDepth(counts map[string]int64) {
	if m == nil {
		return
	}
	for _, s := range []string{"queued", "running", "failed", "succeeded", "dead", "canceled"} {
		m.queueDepth.Set(0, s)
	}
	for status, n := range counts {
		m.queueDepth.Set(float64(n), orUnknown(status))
	}
}

func (m *Metrics) SetTokenStoreSize(n int) {
	if m == nil {
		return
	}
	m.tokenStoreSize.Set(float64(n))
}

// CollectQueueDepth runs one queue depth scrape. It is scheduled
// periodically by the app.
func (m *Metrics) CollectQueueDepth(ctx context.Context, log *logger.Logger, source func(context.Context) (map[string]int64, error)) {
	if m == nil || source == nil {
		return
	}
	counts, err := source(ctx)
	if err != nil {
		if log != nil {
			log.Warn("metrics: job queue depth query failed", "error", err)
		}
		return
	}
	m.SetQueueDepth(counts)
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
