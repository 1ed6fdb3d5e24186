package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/plangate/internal/policy"
)

const maxTrackedBuckets = 100_000

// PolicyService holds the executors plans can reference.
type PolicyService struct {
	Registry  *policy.Registry
	rateLimit *policy.RateLimitPolicy
}

// NewPolicies registers the api-key and rate-limit policies. Rate limits are
// read from the live config on every request.
func NewPolicies(i do.Injector) (*PolicyService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	keySvc := do.MustInvoke[*KeyStoreService](i)

	apiKeyCfg := cfgSvc.Get().Security.APIKey
	apiKey := policy.NewAPIKeyPolicy(keySvc.Lookup, apiKeyCfg.GetHeader(), apiKeyCfg.GetParam())

	rateLimit, err := policy.NewRateLimitPolicy(func(planID string) int {
		return cfgSvc.Get().RateLimitFor(planID)
	}, maxTrackedBuckets)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit policy: %w", err)
	}

	return &PolicyService{
		Registry:  policy.NewRegistry(apiKey, rateLimit),
		rateLimit: rateLimit,
	}, nil
}

// Shutdown implements do.Shutdowner.
func (p *PolicyService) Shutdown() error {
	p.rateLimit.Close()
	return nil
}
