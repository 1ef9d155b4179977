// Package metrics exposes counters in Prometheus text exposition format
// without pulling in a client library.
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

type requestKey struct {
	handler string
	method  string
	code    string
}

type turnKey struct {
	outcome string
}

type toolKey struct {
	tool    string
	success string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu                sync.Mutex
	requests          map[requestKey]uint64
	turns             map[turnKey]uint64
	tools             map[toolKey]uint64
	llmErrors         uint64
	securityIncidents uint64
	suspends          uint64
	resumes           uint64
	turnLatency       *histogram
}

var defaultCollector = &collector{
	requests: make(map[requestKey]uint64),
	turns:    make(map[turnKey]uint64),
	tools:    make(map[toolKey]uint64),
}

// ObserveHTTPRequest records one HTTP request by handler, method and status.
func ObserveHTTPRequest(handler, method string, status int) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
}

// ObserveTurn records one finished agent turn and its wall-clock duration.
func ObserveTurn(outcome string, duration time.Duration) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.turns[turnKey{outcome: outcome}]++
	if defaultCollector.turnLatency == nil {
		defaultCollector.turnLatency = newHistogram()
	}
	defaultCollector.turnLatency.observe(duration.Seconds())
}

// ObserveToolExecution records one tool call.
func ObserveToolExecution(tool string, success bool) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.tools[toolKey{tool: tool, success: strconv.FormatBool(success)}]++
}

// ObserveLLMError counts a failed or unparseable model response.
func ObserveLLMError() {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.llmErrors++
}

// ObserveSecurityIncident counts a state-store integrity rejection.
func ObserveSecurityIncident() {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.securityIncidents++
}

// ObserveSuspend counts a turn suspended on a user action.
func ObserveSuspend() {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.suspends++
}

// ObserveResume counts a resumed turn.
func ObserveResume() {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.resumes++
}

func newHistogram() *histogram {
	buckets := []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
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
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the counters in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP namepilot_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE namepilot_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].handler == reqKeys[j].handler {
			if reqKeys[i].method == reqKeys[j].method {
				return reqKeys[i].code < reqKeys[j].code
			}
			return reqKeys[i].method < reqKeys[j].method
		}
		return reqKeys[i].handler < reqKeys[j].handler
	})
	for _, key := range reqKeys {
		builder.WriteString(fmt.Sprintf("namepilot_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key]))
	}

	builder.WriteString("# HELP namepilot_agent_turns_total Total number of agent turns by outcome.\n")
	builder.WriteString("# TYPE namepilot_agent_turns_total counter\n")
	turnKeys := make([]turnKey, 0, len(c.turns))
	for key := range c.turns {
		turnKeys = append(turnKeys, key)
	}
	sort.Slice(turnKeys, func(i, j int) bool { return turnKeys[i].outcome < turnKeys[j].outcome })
	for _, key := range turnKeys {
		builder.WriteString(fmt.Sprintf("namepilot_agent_turns_total{outcome=\"%s\"} %d\n",
			escape(key.outcome), c.turns[key]))
	}

	builder.WriteString("# HELP namepilot_tool_executions_total Total number of tool executions.\n")
	builder.WriteString("# TYPE namepilot_tool_executions_total counter\n")
	toolKeys := make([]toolKey, 0, len(c.tools))
	for key := range c.tools {
		toolKeys = append(toolKeys, key)
	}
	sort.Slice(toolKeys, func(i, j int) bool {
		if toolKeys[i].tool == toolKeys[j].tool {
			return toolKeys[i].success < toolKeys[j].success
		}
		return toolKeys[i].tool < toolKeys[j].tool
	})
	for _, key := range toolKeys {
		builder.WriteString(fmt.Sprintf("namepilot_tool_executions_total{tool=\"%s\",success=\"%s\"} %d\n",
			escape(key.tool), key.success, c.tools[key]))
	}

	builder.WriteString("# HELP namepilot_llm_errors_total Total number of failed model calls.\n")
	builder.WriteString("# TYPE namepilot_llm_errors_total counter\n")
	builder.WriteString(fmt.Sprintf("namepilot_llm_errors_total %d\n", c.llmErrors))

	builder.WriteString("# HELP namepilot_security_incidents_total Total number of state-store integrity rejections.\n")
	builder.WriteString("# TYPE namepilot_security_incidents_total counter\n")
	builder.WriteString(fmt.Sprintf("namepilot_security_incidents_total %d\n", c.securityIncidents))

	builder.WriteString("# HELP namepilot_turn_suspensions_total Total number of turns suspended on a user action.\n")
	builder.WriteString("# TYPE namepilot_turn_suspensions_total counter\n")
	builder.WriteString(fmt.Sprintf("namepilot_turn_suspensions_total %d\n", c.suspends))

	builder.WriteString("# HELP namepilot_turn_resumes_total Total number of resumed turns.\n")
	builder.WriteString("# TYPE namepilot_turn_resumes_total counter\n")
	builder.WriteString(fmt.Sprintf("namepilot_turn_resumes_total %d\n", c.resumes))

	if c.turnLatency != nil {
		builder.WriteString("# HELP namepilot_agent_turn_duration_seconds Agent turn duration in seconds.\n")
		builder.WriteString("# TYPE namepilot_agent_turn_duration_seconds histogram\n")
		for idx, bound := range c.turnLatency.buckets {
			builder.WriteString(fmt.Sprintf("namepilot_agent_turn_duration_seconds_bucket{le=\"%s\"} %d\n",
				formatFloat(bound), c.turnLatency.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("namepilot_agent_turn_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.turnLatency.count))
		builder.WriteString(fmt.Sprintf("namepilot_agent_turn_duration_seconds_sum %s\n", formatFloat(c.turnLatency.sum)))
		builder.WriteString(fmt.Sprintf("namepilot_agent_turn_duration_seconds_count %d\n", c.turnLatency.count))
	}

	return builder.String()
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

// StartServer launches a standalone HTTP server exposing /metrics.
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
