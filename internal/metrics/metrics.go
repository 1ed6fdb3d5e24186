// Package metrics exposes Prometheus metrics for plan selection and policy
// execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omarluq/plangate/internal/auth"
)

// Config controls metric naming.
type Config struct {
	Namespace string `yaml:"namespace" toml:"namespace"`
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
}

// Collector owns the gateway metrics and the registry they live in.
//
// Metrics:
//   - <ns>_selector_decisions_total{outcome}: api_key handler decisions
//   - <ns>_plan_resolutions_total{plan,result}: chain resolutions
//   - <ns>_policy_rejections_total{policy,status}: requests refused by a policy
//   - <ns>_key_lookup_duration_seconds{result}: guarded key store lookups
type Collector struct {
	registry       *prometheus.Registry
	decisions      *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
}

// NewCollector creates and registers the metrics. A nil registry gets a fresh one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "plangate"
	}

	c := &Collector{
		registry: registry,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "selector_decisions_total",
			Help:      "API key plan selector decisions by outcome",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "plan_resolutions_total",
			Help:      "Plan resolutions by selected plan and result",
		}, []string{"plan", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_rejections_total",
			Help:      "Requests rejected by a policy",
		}, []string{"policy", "status"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "key_lookup_duration_seconds",
			Help:      "Duration of key store lookups",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		}, []string{"result"}),
	}

	registry.MustRegister(c.decisions, c.resolutions, c.rejections, c.lookupDuration)
	return c
}

// RecordDecision counts a selector decision. It matches auth.DecisionRecorder.
func (c *Collector) RecordDecision(d auth.Decision) {
	c.decisions.WithLabelValues(string(d)).Inc()
}

// RecordResolution counts a chain resolution. plan is empty when none matched.
func (c *Collector) RecordResolution(plan string, matched bool) {
	result := "matched"
	if !matched {
		result = "unmatched"
		plan = "none"
	}
	c.resolutions.WithLabelValues(plan, result).Inc()
}

// RecordRejection counts a policy rejection.
func (c *Collector) RecordRejection(policy string, status int) {
	c.rejections.WithLabelValues(policy, http.StatusText(status)).Inc()
}

// ObserveLookup records a key lookup. It matches keystore.LookupObserver.
func (c *Collector) ObserveLookup(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.lookupDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// Registry returns the registry metrics are registered in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
