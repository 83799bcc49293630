// Package observability holds the metrics registry and tracing setup. The
// exposition format is plain Prometheus text so the scrape endpoint needs no
// client library.
package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec

	jobsAdmitted  *CounterVec
	jobsDenied    *Counter
	jobsCompleted *CounterVec
	jobsCanceled  *Counter

	segmentsProcessed *Counter
	segmentRetries    *Counter

	settlements       *CounterVec
	depositsConfirmed *Counter

	workerClaims *Counter
	workerPanics *Counter
	queueDepth   *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics { return instance }

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = &Metrics{
			apiRequests: NewCounterVec("scriptor_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"scriptor_api_request_duration_seconds",
				"API request latency in seconds by method/route.",
				[]string{"method", "route"},
				[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			),
			jobsAdmitted:      NewCounterVec("scriptor_jobs_admitted_total", "Jobs admitted by kind and funding source.", []string{"kind", "funding_source"}),
			jobsDenied:        NewCounter("scriptor_jobs_denied_total", "Job admissions denied for lack of quota."),
			jobsCompleted:     NewCounterVec("scriptor_jobs_completed_total", "Jobs reaching a terminal status by kind and status.", []string{"kind", "status"}),
			jobsCanceled:      NewCounter("scriptor_jobs_canceled_total", "Jobs canceled by their owner."),
			segmentsProcessed: NewCounter("scriptor_segments_processed_total", "Recognition segments checkpointed."),
			segmentRetries:    NewCounter("scriptor_segment_retries_total", "Transient segment failures retried."),
			settlements:       NewCounterVec("scriptor_settlements_total", "Settlements by outcome (finalized/compensated/noop).", []string{"outcome"}),
			depositsConfirmed: NewCounter("scriptor_deposits_confirmed_total", "Wallet deposits credited from gateway webhooks."),
			workerClaims:      NewCounter("scriptor_worker_claims_total", "Jobs claimed by the worker pool."),
			workerPanics:      NewCounter("scriptor_worker_panics_total", "Pipeline panics recovered by the worker."),
			queueDepth:        NewGauge("scriptor_queue_depth", "Jobs waiting to be claimed."),
		}
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func (m *Metrics) ObserveAPIRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, fmt.Sprintf("%d", status))
	m.apiLatency.Observe(duration.Seconds(), method, route)
}

func (m *Metrics) JobAdmitted(kind, fundingSource string) {
	if m == nil {
		return
	}
	m.jobsAdmitted.Inc(kind, fundingSource)
}

func (m *Metrics) JobDenied() {
	if m == nil {
		return
	}
	m.jobsDenied.Inc()
}

func (m *Metrics) JobCompleted(kind, status string) {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc(kind, status)
}

func (m *Metrics) JobCanceled() {
	if m == nil {
		return
	}
	m.jobsCanceled.Inc()
}

func (m *Metrics) SegmentProcessed() {
	if m == nil {
		return
	}
	m.segmentsProcessed.Inc()
}

func (m *Metrics) SegmentRetried() {
	if m == nil {
		return
	}
	m.segmentRetries.Inc()
}

func (m *Metrics) SettlementOutcome(outcome string) {
	if m == nil {
		return
	}
	m.settlements.Inc(outcome)
}

func (m *Metrics) DepositConfirmed() {
	if m == nil {
		return
	}
	m.depositsConfirmed.Inc()
}

func (m *Metrics) WorkerClaim() {
	if m == nil {
		return
	}
	m.workerClaims.Inc()
}

func (m *Metrics) WorkerPanic() {
	if m == nil {
		return
	}
	m.workerPanics.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests,
		m.apiLatency,
		m.jobsAdmitted,
		m.jobsDenied,
		m.jobsCompleted,
		m.jobsCanceled,
		m.segmentsProcessed,
		m.segmentRetries,
		m.settlements,
		m.depositsConfirmed,
		m.workerClaims,
		m.workerPanics,
		m.queueDepth,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", g.name, g.val)
	return err
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels, le string) string {
	if labels == "" {
		return fmt.Sprintf("{le=\"%s\"}", le)
	}
	return strings.TrimSuffix(labels, "}") + fmt.Sprintf(",le=\"%s\"}", le)
}
