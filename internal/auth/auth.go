// Package auth selects the authentication plan for an inbound request.
//
// A Handler inspects a request against one plan's authentication context and
// decides whether it can take the request. When it can, it contributes the
// identifiers of the policies that authenticate the request downstream.
// Handlers are evaluated by a Chain in ascending Order.
package auth

import (
	"net/http"

	"github.com/samber/mo"
)

// Policy identifies an authentication policy contributed to the request pipeline.
type Policy string

// PolicyAPIKey is the policy that fully validates an API key.
const PolicyAPIKey Policy = "api-key"

// Security type names. They double as handler names.
const (
	SecurityAPIKey  = "api_key"
	SecurityKeyless = "keyless"
)

// Context is the authentication context under evaluation: the plan a handler
// is asked to match the request against.
type Context struct {
	PlanID string
	API    string
}

// ID returns the plan identifier.
func (c Context) ID() string {
	return c.PlanID
}

// ExecutionContext carries the request and the plan selected for it into
// Handle and the policies that run afterwards.
// Policies may record what they learn about the caller on it.
type ExecutionContext struct {
	Request     *http.Request
	Plan        Context
	RequestID   string
	Application string
}

// Handler is an authentication mechanism competing to process a request.
type Handler interface {
	// Name identifies the handler and the plan security type it serves.
	Name() string

	// Order is the handler priority. Lower values are evaluated first.
	Order() int

	// CanHandle reports whether the handler applies to the request for the
	// given authentication context. It may block on I/O.
	CanHandle(r *http.Request, authCtx mo.Option[Context]) bool

	// Handle returns the policies to run once the handler has been selected.
	// The returned slice is shared and must not be modified.
	Handle(ec *ExecutionContext) []Policy
}
