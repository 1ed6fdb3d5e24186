package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/samber/mo"
	"github.com/sony/gobreaker/v2"
)

// State is the circuit breaker state of a Guard.
type State = gobreaker.State

// Circuit breaker states.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// LookupObserver receives the duration and outcome of every guarded lookup.
type LookupObserver func(elapsed time.Duration, err error)

// Guard bounds a Lookup with a per-call timeout and a circuit breaker.
// A lookup runs once; failures are never retried here.
type Guard struct {
	lookup  Lookup
	breaker *gobreaker.CircuitBreaker[mo.Option[APIKey]]
	observe LookupObserver
	timeout time.Duration
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLookupObserver registers a callback invoked after each lookup.
func WithLookupObserver(fn LookupObserver) GuardOption {
	return func(g *Guard) {
		g.observe = fn
	}
}

// NewGuard wraps lookup with the timeout and breaker settings from cfg.
func NewGuard(lookup Lookup, cfg *Config, opts ...GuardOption) *Guard {
	log := logger()
	cb := cfg.CircuitBreaker
	threshold := uint32(cb.GetFailureThreshold()) //nolint:gosec // positive by construction

	settings := gobreaker.Settings{
		Name:        "keystore",
		MaxRequests: uint32(cb.GetHalfOpenProbes()), //nolint:gosec // positive by construction
		Timeout:     cb.GetOpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := log.Info()
			if to == gobreaker.StateOpen {
				event = log.Warn()
			}
			event.
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("key lookup circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	g := &Guard{
		lookup:  lookup,
		breaker: gobreaker.NewCircuitBreaker[mo.Option[APIKey]](settings),
		timeout: cfg.GetLookupTimeout(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FindByKey performs one bounded lookup. Every error it returns matches
// ErrTechnical.
func (g *Guard) FindByKey(ctx context.Context, key string) (mo.Option[APIKey], error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (mo.Option[APIKey], error) {
		return g.lookup.FindByKey(ctx, key)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &TechnicalError{Op: "find", Err: ErrCircuitOpen}
	}
	err = technical("find", err)

	if g.observe != nil {
		g.observe(time.Since(start), err)
	}
	if err != nil {
		return mo.None[APIKey](), err
	}
	return result, nil
}

// State returns the breaker state.
func (g *Guard) State() State {
	return g.breaker.State()
}
