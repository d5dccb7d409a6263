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

const (
	metricRequests = "planpilot_http_requests_total"
	metricErrors   = "planpilot_http_request_errors_total"
	metricLatency  = "planpilot_http_request_duration_seconds"
)

// series 标识一组 handler+method 维度的时间序列。
type series struct {
	handler string
	method  string
}

type requestKey struct {
	series
	code string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[series]uint64
	latency  map[series]*histogram
}

var httpCollector = &collector{
	requests: make(map[requestKey]uint64),
	errors:   make(map[series]uint64),
	latency:  make(map[series]*histogram),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(handler, method, status, duration)
}

func (c *collector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := series{handler: handler, method: method}
	c.requests[requestKey{series: key, code: strconv.Itoa(status)}]++
	if status >= 500 {
		c.errors[key]++
	}

	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			// 桶计数为累积计数，命中一个桶后同步累加其后所有桶。
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// 超出最大桶的样本只计入 +Inf 桶，由 h.count 体现。
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].series != reqKeys[j].series {
			return lessSeries(reqKeys[i].series, reqKeys[j].series)
		}
		return reqKeys[i].code < reqKeys[j].code
	})
	builder.WriteString("# HELP " + metricRequests + " Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE " + metricRequests + " counter\n")
	for _, key := range reqKeys {
		fmt.Fprintf(&builder, "%s{handler=%q,method=%q,code=%q} %d\n",
			metricRequests, key.handler, key.method, key.code, c.requests[key])
	}

	builder.WriteString("# HELP " + metricErrors + " Total number of HTTP requests that resulted in a server error.\n")
	builder.WriteString("# TYPE " + metricErrors + " counter\n")
	for _, key := range sortedSeries(c.errors) {
		fmt.Fprintf(&builder, "%s{handler=%q,method=%q} %d\n",
			metricErrors, key.handler, key.method, c.errors[key])
	}

	builder.WriteString("# HELP " + metricLatency + " HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE " + metricLatency + " histogram\n")
	for _, key := range sortedSeries(c.latency) {
		hist := c.latency[key]
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&builder, "%s_bucket{handler=%q,method=%q,le=%q} %d\n",
				metricLatency, key.handler, key.method, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(&builder, "%s_bucket{handler=%q,method=%q,le=\"+Inf\"} %d\n",
			metricLatency, key.handler, key.method, hist.count)
		fmt.Fprintf(&builder, "%s_sum{handler=%q,method=%q} %s\n",
			metricLatency, key.handler, key.method, formatFloat(hist.sum))
		fmt.Fprintf(&builder, "%s_count{handler=%q,method=%q} %d\n",
			metricLatency, key.handler, key.method, hist.count)
	}

	return builder.String()
}

func sortedSeries[V any](m map[series]V) []series {
	keys := make([]series, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessSeries(keys[i], keys[j]) })
	return keys
}

func lessSeries(a, b series) bool {
	if a.handler == b.handler {
		return a.method < b.method
	}
	return a.handler < b.handler
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
