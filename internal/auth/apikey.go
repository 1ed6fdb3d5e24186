package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/omarluq/plangate/internal/keystore"
)

// Defaults for where API keys are read from.
const (
	DefaultAPIKeyHeader = "X-Gravitee-Api-Key"
	DefaultAPIKeyParam  = "api-key"
)

// APIKeyOrder is the priority of the API key handler.
const APIKeyOrder = 500

// apiKeyPolicies is shared by every Handle call.
var apiKeyPolicies = []Policy{PolicyAPIKey}

// KeyLookup resolves an API key to the plan it is bound to.
// None means the key is unknown; any error is a technical failure.
type KeyLookup interface {
	FindByKey(ctx context.Context, key string) (mo.Option[keystore.APIKey], error)
}

// Decision is the reason behind a CanHandle answer.
type Decision string

// CanHandle decisions.
const (
	DecisionNoKey         Decision = "no_key"
	DecisionNoLookup      Decision = "no_lookup"
	DecisionNoContext     Decision = "no_context"
	DecisionPlanMatch     Decision = "plan_match"
	DecisionPlanMismatch  Decision = "plan_mismatch"
	DecisionUnknownKey    Decision = "unknown_key"
	DecisionLookupFailure Decision = "lookup_failure"
)

// Eligible reports whether the decision lets the plan claim the request.
func (d Decision) Eligible() bool {
	return d != DecisionNoKey && d != DecisionPlanMismatch
}

// DecisionRecorder observes every CanHandle decision.
type DecisionRecorder func(Decision)

// APIKeyHandler selects plans secured by API keys.
//
// It only checks that a key is present and, when the key store can tell,
// that the key belongs to the plan under evaluation. Whenever that cannot be
// determined it lets the plan be tried: the api-key policy is the
// authoritative check.
type APIKeyHandler struct {
	lookup KeyLookup
	record DecisionRecorder
	log    zerolog.Logger
	header string
	param  string
}

// APIKeyOption configures an APIKeyHandler.
type APIKeyOption func(*APIKeyHandler)

// WithKeyLookup sets the key store consulted by CanHandle.
// Without it, every request carrying a key is eligible.
func WithKeyLookup(lookup KeyLookup) APIKeyOption {
	return func(h *APIKeyHandler) {
		h.lookup = lookup
	}
}

// WithHeader overrides the header the key is read from. Empty keeps the default.
func WithHeader(name string) APIKeyOption {
	return func(h *APIKeyHandler) {
		if name != "" {
			h.header = name
		}
	}
}

// WithQueryParam overrides the query parameter the key is read from.
// Empty keeps the default.
func WithQueryParam(name string) APIKeyOption {
	return func(h *APIKeyHandler) {
		if name != "" {
			h.param = name
		}
	}
}

// WithLogger sets the logger used for lookup failures and debug tracing.
func WithLogger(l zerolog.Logger) APIKeyOption {
	return func(h *APIKeyHandler) {
		h.log = l
	}
}

// WithDecisionRecorder registers a callback for every CanHandle decision.
func WithDecisionRecorder(fn DecisionRecorder) APIKeyOption {
	return func(h *APIKeyHandler) {
		h.record = fn
	}
}

// NewAPIKeyHandler creates the handler. Its settings are fixed after creation.
func NewAPIKeyHandler(opts ...APIKeyOption) *APIKeyHandler {
	h := &APIKeyHandler{
		header: DefaultAPIKeyHeader,
		param:  DefaultAPIKeyParam,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With().Str("handler", SecurityAPIKey).Logger()
	return h
}

// Name returns "api_key".
func (h *APIKeyHandler) Name() string {
	return SecurityAPIKey
}

// Order returns 500.
func (h *APIKeyHandler) Order() int {
	return APIKeyOrder
}

// Header returns the header name keys are read from.
func (h *APIKeyHandler) Header() string {
	return h.header
}

// QueryParam returns the query parameter name keys are read from.
func (h *APIKeyHandler) QueryParam() string {
	return h.param
}

// ExtractKey returns the key from the configured header, falling back to the
// configured query parameter when the header is missing or empty.
func (h *APIKeyHandler) ExtractKey(r *http.Request) mo.Option[string] {
	return ExtractKey(r, h.header, h.param)
}

// ExtractKey reads an API key from header, then from param.
// Header lookup is case-insensitive; the first value wins in both places.
func ExtractKey(r *http.Request, header, param string) mo.Option[string] {
	if key := r.Header.Get(header); key != "" {
		return mo.Some(key)
	}
	if r.URL == nil {
		return mo.None[string]()
	}
	if key := r.URL.Query().Get(param); key != "" {
		return mo.Some(key)
	}
	return mo.None[string]()
}

// CanHandle reports whether the request carries an API key compatible with
// the plan in authCtx.
func (h *APIKeyHandler) CanHandle(r *http.Request, authCtx mo.Option[Context]) bool {
	decision := h.decide(r, authCtx)
	if h.record != nil {
		h.record(decision)
	}
	return decision.Eligible()
}

func (h *APIKeyHandler) decide(r *http.Request, authCtx mo.Option[Context]) Decision {
	key, ok := h.ExtractKey(r).Get()
	if !ok {
		return DecisionNoKey
	}
	if h.lookup == nil {
		return DecisionNoLookup
	}
	plan, ok := authCtx.Get()
	if !ok {
		return DecisionNoContext
	}

	found, err := h.lookup.FindByKey(r.Context(), key)
	if err != nil {
		h.log.Warn().
			Err(err).
			Str("plan", plan.ID()).
			Msg("api key lookup failed, plan left eligible")
		return DecisionLookupFailure
	}

	record, ok := found.Get()
	switch {
	case !ok:
		return DecisionUnknownKey
	case record.Plan == plan.ID():
		return DecisionPlanMatch
	default:
		h.log.Debug().
			Str("plan", plan.ID()).
			Str("key_plan", record.Plan).
			Msg("api key bound to another plan")
		return DecisionPlanMismatch
	}
}

// Handle returns the api-key policy.
func (h *APIKeyHandler) Handle(_ *ExecutionContext) []Policy {
	return apiKeyPolicies
}

var _ Handler = (*APIKeyHandler)(nil)
