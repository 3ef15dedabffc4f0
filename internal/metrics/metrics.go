// Package metrics exposes pipeline measurements to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vitafit/internal/llm"
)

const namespace = "vitafit"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	outcomes *prometheus.CounterVec
	upstream *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	requests *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_outcomes_total",
			Help:      "Generation outcomes by task, state and decision.",
		}, []string{"task", "state", "decision"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Model invocation latency by task and result.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"task", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens reported by the model endpoint.",
		}, []string{"task", "kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.outcomes,
		m.upstream,
		m.tokens,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOutcome counts one classified generation.
func (m *Metrics) ObserveOutcome(task, state, decision string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(task, state, decision).Inc()
}

// ObserveUpstream records one model call.
func (m *Metrics) ObserveUpstream(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(task, upstreamResult(err)).Observe(d.Seconds())
}

// ObserveTokens adds reported token usage.
func (m *Metrics) ObserveTokens(task string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.tokens.WithLabelValues(task, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.tokens.WithLabelValues(task, "completion").Add(float64(completion))
	}
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func upstreamResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case llm.IsUnavailable(err):
		return "unavailable"
	case llm.IsRejected(err):
		var rejected *llm.RejectedError
		if errors.As(err, &rejected) && rejected.Transient() {
			return "rejected_transient"
		}
		return "rejected"
	default:
		return "error"
	}
}
