// Package metrics keeps in-process operational counters for the submission
// service and exposes them as Prometheus text and JSON.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Registry struct {
	mu       sync.RWMutex
	endpoint map[string]*EndpointStat
	outcome  map[string]int64
	gauges   map[string]float64
	stages   *HistogramRegistry
	latency  *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Outcomes    map[string]int64        `json:"outcomes"`
	Gauges      map[string]float64      `json:"gauges"`
	Stages      []HistogramSnapshot     `json:"stages,omitempty"`
	Latency     []HistogramSnapshot     `json:"latency,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint: map[string]*EndpointStat{},
		outcome:  map[string]int64{},
		gauges:   map[string]float64{},
		stages:   NewHistogramRegistry(),
		latency:  NewHistogramRegistry(),
	}
}

// Observe records one finished HTTP request.
func (r *Registry) Observe(endpoint string, status int, d time.Duration) {
	r.latency.ObserveDuration(endpoint, d)
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[endpoint]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[endpoint] = stat
	}
	stat.Count++
	if status >= 500 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncOutcome counts one terminal submission outcome.
func (r *Registry) IncOutcome(outcome string) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	r.mu.Lock()
	r.outcome[outcome]++
	r.mu.Unlock()
}

// ObserveStage records how long one pipeline stage took.
func (r *Registry) ObserveStage(stage string, d time.Duration) {
	if stage == "" {
		return
	}
	r.stages.ObserveDuration(stage, d)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Outcomes:    make(map[string]int64, len(r.outcome)),
		Gauges:      make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.outcome {
		out.Outcomes[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	r.mu.RUnlock()
	out.Stages = r.stages.Snapshots()
	out.Latency = r.latency.Snapshots()
	return out
}

// Middleware observes every request under its chi route pattern so path
// parameters do not explode the label space.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		pattern := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				pattern = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.Observe(req.Method+" "+pattern, status, time.Since(start))
	})
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r.Snapshot())
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}

		b.WriteString("# HELP tanyaaja_http_requests_total requests by endpoint\n")
		b.WriteString("# TYPE tanyaaja_http_requests_total counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "tanyaaja_http_requests_total{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP tanyaaja_http_errors_total 5xx responses by endpoint\n")
		b.WriteString("# TYPE tanyaaja_http_errors_total counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "tanyaaja_http_errors_total{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP tanyaaja_submission_outcomes_total terminal submission outcomes\n")
		b.WriteString("# TYPE tanyaaja_submission_outcomes_total counter\n")
		for _, o := range SortedKeys(snap.Outcomes) {
			fmt.Fprintf(b, "tanyaaja_submission_outcomes_total{outcome=%q} %d\n", o, snap.Outcomes[o])
		}
		b.WriteString("# HELP tanyaaja_gauge operational gauges\n")
		b.WriteString("# TYPE tanyaaja_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "tanyaaja_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		writeHistograms(b, "tanyaaja_stage_duration_seconds", "stage", "submission stage latency", snap.Stages)
		writeHistograms(b, "tanyaaja_http_duration_seconds", "endpoint", "request latency", snap.Latency)

		_, _ = w.Write([]byte(b.String()))
	}
}

func writeHistograms(b *strings.Builder, metric, label, help string, hs []HistogramSnapshot) {
	if len(hs) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", metric, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", metric)
	for _, h := range hs {
		for _, bucket := range h.Buckets {
			fmt.Fprintf(b, "%s_bucket{%s=%q,le=\"%g\"} %d\n", metric, label, h.Name, bucket.Le, bucket.Count)
		}
		fmt.Fprintf(b, "%s_bucket{%s=%q,le=\"+Inf\"} %d\n", metric, label, h.Name, h.Count)
		fmt.Fprintf(b, "%s_sum{%s=%q} %.6f\n", metric, label, h.Name, h.Sum)
		fmt.Fprintf(b, "%s_count{%s=%q} %d\n", metric, label, h.Name, h.Count)
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
