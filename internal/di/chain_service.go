package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/plangate/internal/auth"
)

// ChainService holds the ordered security handler chain.
type ChainService struct {
	Chain  *auth.Chain
	APIKey *auth.APIKeyHandler
}

// NewChain builds the api-key and keyless handlers and orders them.
// The api-key handler reads its header and parameter names once, here.
func NewChain(i do.Injector) (*ChainService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	keySvc := do.MustInvoke[*KeyStoreService](i)

	apiKeyCfg := cfgSvc.Get().Security.APIKey
	opts := []auth.APIKeyOption{
		auth.WithHeader(apiKeyCfg.GetHeader()),
		auth.WithQueryParam(apiKeyCfg.GetParam()),
		auth.WithLogger(*logSvc.Logger),
	}
	if keySvc.Lookup != nil {
		opts = append(opts, auth.WithKeyLookup(keySvc.Lookup))
	}
	if metricsSvc.Enabled() {
		opts = append(opts, auth.WithDecisionRecorder(metricsSvc.Collector.RecordDecision))
	}

	apiKey := auth.NewAPIKeyHandler(opts...)
	return &ChainService{
		Chain:  auth.NewChain(apiKey, auth.NewKeylessHandler()),
		APIKey: apiKey,
	}, nil
}
