// Package policy runs the policies contributed by a plan selection.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/omarluq/plangate/internal/auth"
)

// PolicyRateLimit limits the request rate per plan and caller.
const PolicyRateLimit auth.Policy = "rate-limit"

// ErrUnknownPolicy is returned when a selection names an unregistered policy.
var ErrUnknownPolicy = errors.New("policy: unknown policy")

// Executor runs one policy against a request.
// Returning a *Rejection stops the pipeline with that response.
type Executor interface {
	ID() auth.Policy
	Execute(ctx context.Context, ec *auth.ExecutionContext) error
}

// Rejection is a policy refusing the request.
type Rejection struct {
	Policy     auth.Policy
	Reason     string
	ErrorType  string
	Status     int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("policy %s rejected request: %s", r.Policy, r.Reason)
}

func unauthorized(reason string) *Rejection {
	return &Rejection{
		Policy:    auth.PolicyAPIKey,
		Status:    http.StatusUnauthorized,
		ErrorType: "authentication_error",
		Reason:    reason,
	}
}

// Registry maps policy identifiers to executors.
type Registry struct {
	executors map[auth.Policy]Executor
}

// NewRegistry creates a registry holding the given executors.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[auth.Policy]Executor, len(executors))}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an executor.
func (r *Registry) Register(e Executor) {
	r.executors[e.ID()] = e
}

// Has reports whether id is registered.
func (r *Registry) Has(id auth.Policy) bool {
	_, ok := r.executors[id]
	return ok
}

// Run executes the policies in order and stops at the first error.
func (r *Registry) Run(ctx context.Context, ec *auth.ExecutionContext, ids []auth.Policy) error {
	for _, id := range ids {
		e, ok := r.executors[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPolicy, id)
		}
		if err := e.Execute(ctx, ec); err != nil {
			return err
		}
	}
	return nil
}
