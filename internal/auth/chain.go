package auth

import (
	"errors"
	"net/http"
	"slices"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// ErrNoPlanMatched is returned when no handler accepts the request for any plan.
var ErrNoPlanMatched = errors.New("auth: no plan matched the request")

// Plan is an access plan the chain can select.
// Policies run after the authentication policies of the selected handler.
type Plan struct {
	ID       string
	API      string
	Security string
	Policies []Policy
}

// Context returns the authentication context for the plan.
func (p Plan) Context() Context {
	return Context{PlanID: p.ID, API: p.API}
}

// Selection is the outcome of a successful chain resolution.
type Selection struct {
	Plan     Plan
	Handler  string
	Policies []Policy
}

// Chain evaluates handlers in ascending Order against candidate plans.
type Chain struct {
	handlers []Handler
}

// NewChain creates a chain. Handlers with equal Order keep their argument order.
func NewChain(handlers ...Handler) *Chain {
	sorted := slices.Clone(handlers)
	slices.SortStableFunc(sorted, func(a, b Handler) int {
		return a.Order() - b.Order()
	})
	return &Chain{handlers: sorted}
}

// Handlers returns handler names in evaluation order.
func (c *Chain) Handlers() []string {
	return lo.Map(c.handlers, func(h Handler, _ int) string {
		return h.Name()
	})
}

// Resolve selects the first plan, in the given order, that one of its
// security handlers accepts. Handlers are only asked about plans whose
// security type equals their name.
func (c *Chain) Resolve(r *http.Request, plans []Plan) mo.Result[Selection] {
	for _, plan := range plans {
		candidates := lo.Filter(c.handlers, func(h Handler, _ int) bool {
			return h.Name() == plan.Security
		})

		authCtx := mo.Some(plan.Context())
		handler, ok := lo.Find(candidates, func(h Handler) bool {
			return h.CanHandle(r, authCtx)
		})
		if !ok {
			continue
		}

		ec := &ExecutionContext{Request: r, Plan: plan.Context()}
		return mo.Ok(Selection{
			Plan:     plan,
			Handler:  handler.Name(),
			Policies: handler.Handle(ec),
		})
	}
	return mo.Err[Selection](ErrNoPlanMatched)
}
