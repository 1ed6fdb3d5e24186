package gateway

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/keystore"
	"github.com/omarluq/plangate/internal/policy"
)

const healthTimeout = 2 * time.Second

// RouteDeps are the collaborators SetupRoutes wires together.
type RouteDeps struct {
	Chain    *auth.Chain
	Policies *policy.Registry
	Plans    PlanSource
	Recorder Recorder

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Health is pinged by /healthz when set.
	Health keystore.Pinger

	// Upstream receives admitted requests. When absent the gateway answers
	// with the selection as JSON.
	Upstream mo.Option[*url.URL]

	// KeyHeader and KeyParam are stripped before forwarding.
	KeyHeader string
	KeyParam  string

	Logger zerolog.Logger
}

// SetupRoutes creates the HTTP handler with all routes configured.
// Routes:
//   - GET /healthz - key store health (no auth)
//   - GET /metrics - Prometheus metrics (no auth, when enabled)
//   - everything else - plan resolution, policies, then upstream
func SetupRoutes(deps RouteDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthHandler(deps.Health))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	var gated http.Handler
	if target, ok := deps.Upstream.Get(); ok {
		gated = NewUpstreamProxy(target, deps.KeyHeader, deps.KeyParam)
	} else {
		gated = http.HandlerFunc(selectionHandler)
	}
	gated = SecurityMiddleware(deps.Chain, deps.Plans, deps.Policies, deps.Recorder)(gated)
	mux.Handle("/", gated)

	// Middleware order: logger, request ID, logging.
	var handler http.Handler = mux
	handler = LoggingMiddleware()(handler)
	handler = RequestIDMiddleware()(handler)
	handler = LoggerMiddleware(deps.Logger)(handler)
	return handler
}

func healthHandler(pinger keystore.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("key store health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// SelectionResponse is returned for admitted requests when no upstream is set.
type SelectionResponse struct {
	Plan        string        `json:"plan"`
	API         string        `json:"api,omitempty"`
	Handler     string        `json:"handler"`
	Application string        `json:"application,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
	Policies    []auth.Policy `json:"policies"`
}

func selectionHandler(w http.ResponseWriter, r *http.Request) {
	admission, ok := AdmissionFrom(r.Context()).Get()
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal_error", "request was not admitted")
		return
	}

	sel := admission.Selection
	writeJSON(w, http.StatusOK, SelectionResponse{
		Plan:        sel.Plan.ID,
		API:         sel.Plan.API,
		Handler:     sel.Handler,
		Application: admission.Application,
		RequestID:   GetRequestID(r.Context()),
		Policies:    policiesFor(sel),
	})
}

// NewUpstreamProxy forwards admitted requests to target. The API key is
// removed from the outbound request and the selected plan is passed on in
// X-Plangate-Plan.
func NewUpstreamProxy(target *url.URL, keyHeader, keyParam string) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			if keyHeader != "" {
				pr.Out.Header.Del(keyHeader)
			}
			if keyParam != "" {
				q := pr.Out.URL.Query()
				if q.Has(keyParam) {
					q.Del(keyParam)
					pr.Out.URL.RawQuery = q.Encode()
				}
			}

			if admission, ok := AdmissionFrom(pr.In.Context()).Get(); ok {
				pr.Out.Header.Set(HeaderPlan, admission.Selection.Plan.ID)
				if admission.Application != "" {
					pr.Out.Header.Set(HeaderApp, admission.Application)
				}
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("upstream request failed")
			WriteError(w, http.StatusBadGateway, "upstream_error", "upstream request failed")
		},
	}
}
