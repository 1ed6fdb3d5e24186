// Package gateway implements the HTTP surface of plangate: plan resolution,
// policy execution and forwarding to the upstream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/policy"
)

// Recorder receives resolution and rejection outcomes.
// *metrics.Collector implements it.
type Recorder interface {
	RecordResolution(plan string, matched bool)
	RecordRejection(policy string, status int)
}

type nopRecorder struct{}

func (nopRecorder) RecordResolution(string, bool) {}
func (nopRecorder) RecordRejection(string, int)   {}

// PlanSource returns the plans to resolve against, in evaluation order.
// It is called per request so reloaded plans apply immediately.
type PlanSource func() []auth.Plan

// Admission is what the security middleware learned about an accepted request.
type Admission struct {
	Application string
	Selection   auth.Selection
}

type admissionKey struct{}

// admissionSlot lets LoggingMiddleware see the admission made further down
// the handler chain.
type admissionSlot struct {
	admission mo.Option[Admission]
}

type admissionSlotKey struct{}

// WithAdmission stores the admission in the context and reports it to the
// enclosing LoggingMiddleware, if any.
func WithAdmission(ctx context.Context, a Admission) context.Context {
	if slot, ok := ctx.Value(admissionSlotKey{}).(*admissionSlot); ok {
		slot.admission = mo.Some(a)
	}
	return context.WithValue(ctx, admissionKey{}, a)
}

// AdmissionFrom returns the admission stored by the security middleware.
func AdmissionFrom(ctx context.Context) mo.Option[Admission] {
	a, ok := ctx.Value(admissionKey{}).(Admission)
	if !ok {
		return mo.None[Admission]()
	}
	return mo.Some(a)
}

// SecurityMiddleware resolves the plan for each request through the chain and
// runs the selected handler's policies followed by the plan's own.
// Requests no plan accepts get 401; policy rejections are written as returned.
func SecurityMiddleware(
	chain *auth.Chain,
	plans PlanSource,
	policies *policy.Registry,
	rec Recorder,
) func(http.Handler) http.Handler {
	if rec == nil {
		rec = nopRecorder{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			ctx := request.Context()
			logger := zerolog.Ctx(ctx)

			selection, err := chain.Resolve(request, plans()).Get()
			if err != nil {
				rec.RecordResolution("", false)
				logger.Warn().Err(err).Msg("no plan accepted the request")
				writeNoPlan(writer)
				return
			}
			rec.RecordResolution(selection.Plan.ID, true)

			ec := &auth.ExecutionContext{
				Request:   request,
				Plan:      selection.Plan.Context(),
				RequestID: GetRequestID(ctx),
			}
			ids := policiesFor(selection)

			if err := policies.Run(ctx, ec, ids); err != nil {
				status := writePolicyError(writer, err)
				var rej *policy.Rejection
				if errors.As(err, &rej) {
					rec.RecordRejection(string(rej.Policy), rej.Status)
				}
				logger.Warn().
					Err(err).
					Str("plan", selection.Plan.ID).
					Int("status", status).
					Msg("request rejected by policy")
				return
			}

			logger.Debug().
				Str("plan", selection.Plan.ID).
				Str("handler", selection.Handler).
				Str("application", ec.Application).
				Msg("plan selected")

			ctx = WithAdmission(ctx, Admission{Selection: selection, Application: ec.Application})
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// policiesFor lists the handler's policies followed by the plan's, each once.
func policiesFor(sel auth.Selection) []auth.Policy {
	return lo.Uniq(slices.Concat(sel.Policies, sel.Plan.Policies))
}

// LoggerMiddleware attaches the base logger to every request context.
func LoggerMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			next.ServeHTTP(writer, request.WithContext(logger.WithContext(request.Context())))
		})
	}
}

// RequestIDMiddleware adds X-Request-ID header and logger with request ID to context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			ctx := AddRequestID(request.Context(), request.Header.Get(HeaderRequestID))
			writer.Header().Set(HeaderRequestID, GetRequestID(ctx))
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs each request's completion with status and duration.
// Admitted requests also carry the selected plan and application.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: writer, statusCode: http.StatusOK}
			slot := &admissionSlot{}
			request = request.WithContext(context.WithValue(request.Context(), admissionSlotKey{}, slot))

			next.ServeHTTP(wrapped, request)

			duration := formatDuration(time.Since(start))
			logger := zerolog.Ctx(request.Context()).With().
				Str("method", request.Method).
				Str("path", request.URL.Path).
				Int("status", wrapped.statusCode).
				Str("duration", duration).
				Logger()

			var event *zerolog.Event
			switch {
			case wrapped.statusCode >= 500:
				event = logger.Error()
			case wrapped.statusCode >= 400:
				event = logger.Warn()
			default:
				event = logger.Info()
			}
			if admission, ok := slot.admission.Get(); ok {
				event = event.Str("plan", admission.Selection.Plan.ID)
				if admission.Application != "" {
					event = event.Str("application", admission.Application)
				}
			}
			event.Msgf("%s %s %d %s", request.Method, request.URL.Path, wrapped.statusCode, duration)
		})
	}
}

// formatDuration formats duration in a human-readable form with microsecond precision.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	duration = duration.Round(time.Microsecond)
	switch {
	case duration < time.Millisecond:
		return fmt.Sprintf("%dµs", duration.Microseconds())
	case duration < time.Second:
		return fmt.Sprintf("%.2fms", float64(duration)/float64(time.Millisecond))
	case duration < time.Minute:
		return fmt.Sprintf("%.2fs", duration.Seconds())
	default:
		return duration.Truncate(time.Second).String()
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
