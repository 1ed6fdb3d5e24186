package policy

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/plangate/internal/auth"
)

// APIKeyPolicy is the authoritative API key check. It runs after the
// api_key handler selected a plan and rejects keys that are unknown,
// revoked, expired or bound to another plan.
type APIKeyPolicy struct {
	lookup auth.KeyLookup
	now    func() time.Time
	header string
	param  string
}

// NewAPIKeyPolicy creates the policy. lookup may be nil, in which case
// every request is refused with 503 because keys cannot be verified.
func NewAPIKeyPolicy(lookup auth.KeyLookup, header, param string) *APIKeyPolicy {
	if header == "" {
		header = auth.DefaultAPIKeyHeader
	}
	if param == "" {
		param = auth.DefaultAPIKeyParam
	}
	return &APIKeyPolicy{lookup: lookup, header: header, param: param, now: time.Now}
}

// ID returns "api-key".
func (p *APIKeyPolicy) ID() auth.Policy {
	return auth.PolicyAPIKey
}

// Execute validates the request's API key against the selected plan.
func (p *APIKeyPolicy) Execute(ctx context.Context, ec *auth.ExecutionContext) error {
	key, ok := auth.ExtractKey(ec.Request, p.header, p.param).Get()
	if !ok {
		return unauthorized("missing api key")
	}

	if p.lookup == nil {
		return &Rejection{
			Policy:    auth.PolicyAPIKey,
			Status:    http.StatusServiceUnavailable,
			ErrorType: "api_error",
			Reason:    "api key store is not configured",
		}
	}

	found, err := p.lookup.FindByKey(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("api key validation lookup failed")
		return &Rejection{
			Policy:    auth.PolicyAPIKey,
			Status:    http.StatusServiceUnavailable,
			ErrorType: "api_error",
			Reason:    "api key store unavailable",
		}
	}

	record, ok := found.Get()
	switch {
	case !ok:
		return unauthorized("invalid api key")
	case record.Revoked:
		return unauthorized("api key revoked")
	case record.Expired(p.now()):
		return unauthorized("api key expired")
	case record.Plan != ec.Plan.ID():
		return unauthorized("api key is not valid for this plan")
	}

	ec.Application = record.Application
	return nil
}
