package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type counterVec struct {
	mu     sync.Mutex
	name   string
	help   string
	labels []string
	values map[string]uint64
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{
		name:   name,
		help:   help,
		labels: labels,
		values: make(map[string]uint64),
	}
}

func (c *counterVec) inc(labelValues ...string) {
	c.mu.Lock()
	c.values[labelKey(labelValues)]++
	c.mu.Unlock()
}

type histogramSeries struct {
	counts []uint64
	sum    float64
	count  uint64
}

type histogramVec struct {
	mu      sync.Mutex
	name    string
	help    string
	labels  []string
	buckets []float64
	series  map[string]*histogramSeries
}

func newHistogramVec(name, help string, labels ...string) *histogramVec {
	return &histogramVec{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: defaultBuckets,
		series:  make(map[string]*histogramSeries),
	}
}

func (h *histogramVec) observe(value float64, labelValues ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := labelKey(labelValues)
	s := h.series[key]
	if s == nil {
		s = &histogramSeries{counts: make([]uint64, len(h.buckets))}
		h.series[key] = s
	}
	s.count++
	s.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(s.counts); i++ {
				s.counts[i]++
			}
			break
		}
	}
}

// labelKey 用不可见分隔符拼接标签值，作为序列键。
func labelKey(values []string) string {
	return strings.Join(values, "\x00")
}

var (
	httpRequests = newCounterVec(
		"erpagents_http_requests_total",
		"Total number of HTTP requests processed.",
		"handler", "method", "code",
	)
	httpErrors = newCounterVec(
		"erpagents_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.",
		"handler", "method",
	)
	httpLatency = newHistogramVec(
		"erpagents_http_request_duration_seconds",
		"HTTP request duration in seconds.",
		"handler", "method",
	)
	actionTotal = newCounterVec(
		"erpagents_actions_total",
		"Total number of agent actions recorded, by terminal gate outcome.",
		"domain", "action_type", "status",
	)
	actionLatency = newHistogramVec(
		"erpagents_action_duration_seconds",
		"End to end agent operation duration in seconds.",
		"domain", "action_type",
	)
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequests.inc(handler, method, code)
	if status >= 500 {
		httpErrors.inc(handler, method)
	}
	httpLatency.observe(duration.Seconds(), handler, method)
}

// ObserveAction records the outcome of one agent pipeline operation.
func ObserveAction(domain, actionType, status string, duration time.Duration) {
	actionTotal.inc(domain, actionType, status)
	actionLatency.observe(duration.Seconds(), domain, actionType)
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var builder strings.Builder
		builder.Grow(2048)
		renderCounter(&builder, httpRequests)
		renderCounter(&builder, httpErrors)
		renderHistogram(&builder, httpLatency)
		renderCounter(&builder, actionTotal)
		renderHistogram(&builder, actionLatency)
		_, _ = fmt.Fprint(w, builder.String())
	})
}

func renderCounter(builder *strings.Builder, c *counterVec) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder.WriteString("# HELP " + c.name + " " + c.help + "\n")
	builder.WriteString("# TYPE " + c.name + " counter\n")
	for _, key := range keys {
		builder.WriteString(c.name + formatLabels(c.labels, key) + " " + strconv.FormatUint(c.values[key], 10) + "\n")
	}
	c.mu.Unlock()
}

func renderHistogram(builder *strings.Builder, h *histogramVec) {
	h.mu.Lock()
	keys := make([]string, 0, len(h.series))
	for key := range h.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder.WriteString("# HELP " + h.name + " " + h.help + "\n")
	builder.WriteString("# TYPE " + h.name + " histogram\n")
	for _, key := range keys {
		s := h.series[key]
		for idx, bound := range h.buckets {
			builder.WriteString(h.name + "_bucket" + formatLabels(append(h.labels, "le"), key+"\x00"+formatFloat(bound)) +
				" " + strconv.FormatUint(s.counts[idx], 10) + "\n")
		}
		builder.WriteString(h.name + "_bucket" + formatLabels(append(h.labels, "le"), key+"\x00+Inf") +
			" " + strconv.FormatUint(s.count, 10) + "\n")
		builder.WriteString(h.name + "_sum" + formatLabels(h.labels, key) + " " + formatFloat(s.sum) + "\n")
		builder.WriteString(h.name + "_count" + formatLabels(h.labels, key) + " " + strconv.FormatUint(s.count, 10) + "\n")
	}
	h.mu.Unlock()
}

func formatLabels(labels []string, key string) string {
	values := strings.Split(key, "\x00")
	pairs := make([]string, 0, len(labels))
	for idx, label := range labels {
		value := ""
		if idx < len(values) {
			value = values[idx]
		}
		pairs = append(pairs, label+"=\""+escape(value)+"\"")
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
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
