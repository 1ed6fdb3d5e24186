package policy_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/keystore"
	"github.com/omarluq/plangate/internal/policy"
)

type mapLookup struct {
	err  error
	keys map[string]keystore.APIKey
}

func (m mapLookup) FindByKey(_ context.Context, key string) (mo.Option[keystore.APIKey], error) {
	if m.err != nil {
		return mo.None[keystore.APIKey](), m.err
	}
	k, ok := m.keys[key]
	if !ok {
		return mo.None[keystore.APIKey](), nil
	}
	return mo.Some(k), nil
}

func execCtx(key, plan string) *auth.ExecutionContext {
	req := httptest.NewRequest(http.MethodGet, "/echo", http.NoBody)
	if key != "" {
		req.Header.Set(auth.DefaultAPIKeyHeader, key)
	}
	return &auth.ExecutionContext{Request: req, Plan: auth.Context{PlanID: plan}}
}

func rejection(t *testing.T, err error) *policy.Rejection {
	t.Helper()
	var rej *policy.Rejection
	require.ErrorAs(t, err, &rej)
	return rej
}

func TestAPIKeyPolicy_Execute(t *testing.T) {
	t.Parallel()

	lookup := mapLookup{keys: map[string]keystore.APIKey{
		"good":    {Key: "good", Plan: "planA", Application: "app-1"},
		"revoked": {Key: "revoked", Plan: "planA", Revoked: true},
		"expired": {Key: "expired", Plan: "planA", ExpireAt: time.Now().Add(-time.Hour)},
		"other":   {Key: "other", Plan: "planB"},
	}}
	p := policy.NewAPIKeyPolicy(lookup, "", "")

	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantReason string
	}{
		{name: "valid", key: "good"},
		{name: "missing", key: "", wantStatus: http.StatusUnauthorized, wantReason: "missing api key"},
		{name: "unknown", key: "nope", wantStatus: http.StatusUnauthorized, wantReason: "invalid api key"},
		{name: "revoked", key: "revoked", wantStatus: http.StatusUnauthorized, wantReason: "api key revoked"},
		{name: "expired", key: "expired", wantStatus: http.StatusUnauthorized, wantReason: "api key expired"},
		{
			name:       "other plan",
			key:        "other",
			wantStatus: http.StatusUnauthorized,
			wantReason: "api key is not valid for this plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ec := execCtx(tt.key, "planA")
			err := p.Execute(context.Background(), ec)
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, "app-1", ec.Application)
				return
			}
			rej := rejection(t, err)
			assert.Equal(t, tt.wantStatus, rej.Status)
			assert.Equal(t, tt.wantReason, rej.Reason)
			assert.Equal(t, auth.PolicyAPIKey, rej.Policy)
		})
	}
}

func TestAPIKeyPolicy_StoreFailures(t *testing.T) {
	t.Parallel()

	t.Run("no store", func(t *testing.T) {
		t.Parallel()
		err := policy.NewAPIKeyPolicy(nil, "", "").Execute(context.Background(), execCtx("k", "planA"))
		assert.Equal(t, http.StatusServiceUnavailable, rejection(t, err).Status)
	})

	t.Run("lookup error", func(t *testing.T) {
		t.Parallel()
		lookup := mapLookup{err: &keystore.TechnicalError{Op: "find", Err: errors.New("down")}}
		err := policy.NewAPIKeyPolicy(lookup, "", "").Execute(context.Background(), execCtx("k", "planA"))
		assert.Equal(t, http.StatusServiceUnavailable, rejection(t, err).Status)
	})
}

func TestAPIKeyPolicy_QueryParameter(t *testing.T) {
	t.Parallel()

	lookup := mapLookup{keys: map[string]keystore.APIKey{"q": {Key: "q", Plan: "planA"}}}
	p := policy.NewAPIKeyPolicy(lookup, "X-Key", "key")

	req := httptest.NewRequest(http.MethodGet, "/echo?key=q", http.NoBody)
	ec := &auth.ExecutionContext{Request: req, Plan: auth.Context{PlanID: "planA"}}
	assert.NoError(t, p.Execute(context.Background(), ec))
}

func TestRateLimitPolicy(t *testing.T) {
	t.Parallel()

	limits := map[string]int{"metered": 2}
	p, err := policy.NewRateLimitPolicy(func(plan string) int { return limits[plan] }, 100)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	ctx := context.Background()

	t.Run("unlimited plan", func(t *testing.T) {
		t.Parallel()
		for range 10 {
			require.NoError(t, p.Execute(ctx, execCtx("", "open")))
		}
	})

	t.Run("metered plan", func(t *testing.T) {
		t.Parallel()
		ec := execCtx("", "metered")
		ec.Application = "app-1"
		require.NoError(t, p.Execute(ctx, ec))
		require.NoError(t, p.Execute(ctx, ec))

		rej := rejection(t, p.Execute(ctx, ec))
		assert.Equal(t, http.StatusTooManyRequests, rej.Status)
		assert.Equal(t, policy.PolicyRateLimit, rej.Policy)
		assert.Positive(t, rej.RetryAfter)

		other := execCtx("", "metered")
		other.Application = "app-2"
		assert.NoError(t, p.Execute(ctx, other), "buckets are per caller")
	})
}

func TestRateLimitPolicy_KeepsBucketsUpToMaxTracked(t *testing.T) {
	t.Parallel()

	const callers = 500
	p, err := policy.NewRateLimitPolicy(func(string) int { return 1 }, 1_000)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	ctx := context.Background()
	contexts := make([]*auth.ExecutionContext, callers)
	for i := range contexts {
		ec := execCtx("", "metered")
		ec.Application = fmt.Sprintf("app-%03d", i)
		contexts[i] = ec
		require.NoError(t, p.Execute(ctx, ec))
	}

	// Every caller spent its only token; a dropped bucket would admit again.
	for i, ec := range contexts {
		err := p.Execute(ctx, ec)
		require.Error(t, err, "caller %d got a fresh bucket", i)
		assert.Equal(t, http.StatusTooManyRequests, rejection(t, err).Status)
	}
}

type countingExecutor struct {
	err   error
	id    auth.Policy
	calls int
}

func (c *countingExecutor) ID() auth.Policy { return c.id }

func (c *countingExecutor) Execute(context.Context, *auth.ExecutionContext) error {
	c.calls++
	return c.err
}

func TestRegistry_Run(t *testing.T) {
	t.Parallel()

	stop := &policy.Rejection{Policy: "first", Status: http.StatusForbidden, Reason: "no"}
	first := &countingExecutor{id: "first", err: stop}
	second := &countingExecutor{id: "second"}
	reg := policy.NewRegistry(first, second)

	assert.True(t, reg.Has("first"))
	assert.False(t, reg.Has("third"))

	err := reg.Run(context.Background(), execCtx("", "p"), []auth.Policy{"first", "second"})
	assert.Equal(t, stop, rejection(t, err))
	assert.Equal(t, 0, second.calls, "pipeline stops at the first rejection")

	err = reg.Run(context.Background(), execCtx("", "p"), []auth.Policy{"second", "third"})
	assert.ErrorIs(t, err, policy.ErrUnknownPolicy)
	assert.Equal(t, 1, second.calls)

	assert.NoError(t, reg.Run(context.Background(), execCtx("", "p"), nil))
}
