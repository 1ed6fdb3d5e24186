package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/plangate/internal/metrics"
)

// MetricsService wraps the Prometheus collector.
// Collector is nil when metrics are disabled.
type MetricsService struct {
	Collector *metrics.Collector
}

// NewMetrics creates the collector when metrics are enabled.
func NewMetrics(i do.Injector) (*MetricsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	cfg := cfgSvc.Get().Metrics
	if !cfg.Enabled {
		return &MetricsService{}, nil
	}
	return &MetricsService{Collector: metrics.NewCollector(cfg, nil)}, nil
}

// Enabled reports whether metrics are collected.
func (m *MetricsService) Enabled() bool {
	return m.Collector != nil
}
