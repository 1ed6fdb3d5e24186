package di

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/samber/do/v2"
	"github.com/samber/mo"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/gateway"
)

// HandlerService wraps the HTTP handler.
type HandlerService struct {
	Handler http.Handler
}

// NewHandler creates the HTTP handler with all middleware.
// Plans are read from the live config per request.
func NewHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	keySvc := do.MustInvoke[*KeyStoreService](i)
	chainSvc := do.MustInvoke[*ChainService](i)
	policySvc := do.MustInvoke[*PolicyService](i)

	cfg := cfgSvc.Get()

	upstream := mo.None[*url.URL]()
	if raw, ok := cfg.Server.GetUpstreamOption().Get(); ok {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream %q: %w", raw, err)
		}
		upstream = mo.Some(target)
	}

	deps := gateway.RouteDeps{
		Chain:     chainSvc.Chain,
		Policies:  policySvc.Registry,
		Plans:     func() []auth.Plan { return cfgSvc.Get().AuthPlans() },
		Health:    keySvc.Pinger(),
		Upstream:  upstream,
		KeyHeader: chainSvc.APIKey.Header(),
		KeyParam:  chainSvc.APIKey.QueryParam(),
		Logger:    *logSvc.Logger,
	}
	if metricsSvc.Enabled() {
		deps.Recorder = metricsSvc.Collector
		deps.Metrics = metricsSvc.Collector.Handler()
	}

	return &HandlerService{Handler: gateway.SetupRoutes(deps)}, nil
}
