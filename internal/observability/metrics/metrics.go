package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// OutcomeOK 是成功调用的 outcome 标签。
const OutcomeOK = "ok"

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range defaultBuckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// series 以标签值拼接的键区分，labels 与 family 的标签名一一对应。
type series struct {
	labels []string
	value  uint64
	hist   *histogram
}

type family struct {
	name   string
	help   string
	kind   string
	labels []string
	series map[string]*series
}

func (f *family) get(values []string) *series {
	key := strings.Join(values, "\xff")
	s := f.series[key]
	if s == nil {
		s = &series{labels: values}
		if f.kind == "histogram" {
			s.hist = &histogram{counts: make([]uint64, len(defaultBuckets))}
		}
		f.series[key] = s
	}
	return s
}

type registry struct {
	mu       sync.Mutex
	families []*family
}

func (r *registry) register(name, help, kind string, labels ...string) *family {
	f := &family{name: name, help: help, kind: kind, labels: labels, series: make(map[string]*series)}
	r.families = append(r.families, f)
	return f
}

var (
	std = &registry{}

	promptsTotal   = std.register("forgeflow_prompts_total", "Model prompts by event and outcome.", "counter", "event", "outcome")
	promptDuration = std.register("forgeflow_prompt_duration_seconds", "Model prompt latency in seconds.", "histogram", "event")
	renderFailures = std.register("forgeflow_render_failures_total", "Events dropped because the prompt template failed.", "counter", "event")
	httpRequests   = std.register("forgeflow_http_requests_total", "HTTP requests processed.", "counter", "handler", "method", "code")
	httpDuration   = std.register("forgeflow_http_request_duration_seconds", "HTTP request duration in seconds.", "histogram", "handler", "method")
)

// ObservePrompt 记录一次模型调用，outcome 为 OutcomeOK 或错误码。
func ObservePrompt(event, outcome string, duration time.Duration) {
	std.mu.Lock()
	defer std.mu.Unlock()
	promptsTotal.get([]string{event, outcome}).value++
	promptDuration.get([]string{event}).hist.observe(duration.Seconds())
}

// ObserveRenderFailure 记录一次模板渲染失败。
func ObserveRenderFailure(event string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	renderFailures.get([]string{event}).value++
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	std.mu.Lock()
	defer std.mu.Unlock()
	httpRequests.get([]string{handler, method, strconv.Itoa(status)}).value++
	httpDuration.get([]string{handler, method}).hist.observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式输出全部指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, std.render())
	})
}

func (r *registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, f := range r.families {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)

		keys := make([]string, 0, len(f.series))
		for key := range f.series {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			s := f.series[key]
			labels := formatLabels(f.labels, s.labels)
			if s.hist == nil {
				fmt.Fprintf(&b, "%s{%s} %d\n", f.name, labels, s.value)
				continue
			}
			for idx, bound := range defaultBuckets {
				fmt.Fprintf(&b, "%s_bucket{%s,le=\"%s\"} %d\n", f.name, labels, formatFloat(bound), s.hist.counts[idx])
			}
			fmt.Fprintf(&b, "%s_bucket{%s,le=\"+Inf\"} %d\n", f.name, labels, s.hist.count)
			fmt.Fprintf(&b, "%s_sum{%s} %s\n", f.name, labels, formatFloat(s.hist.sum))
			fmt.Fprintf(&b, "%s_count{%s} %d\n", f.name, labels, s.hist.count)
		}
	}
	return b.String()
}

func (r *registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.families {
		f.series = make(map[string]*series)
	}
}

func formatLabels(names, values []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=\"%s\"", name, escape(values[i]))
	}
	return strings.Join(parts, ",")
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
