package policy

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/time/rate"

	"github.com/omarluq/plangate/internal/auth"
)

// LimitFunc returns the requests-per-minute limit for a plan. Zero or less
// means unlimited.
type LimitFunc func(planID string) int

// RateLimitPolicy applies a token bucket per (plan, caller). The caller is the
// application when the api-key policy identified one, otherwise the client IP.
// Burst equals the per-minute limit so a full minute's capacity is usable at once.
type RateLimitPolicy struct {
	limits   LimitFunc
	limiters *ristretto.Cache[string, *rate.Limiter]
	mu       sync.Mutex
}

// NewRateLimitPolicy creates the policy. Up to maxTracked buckets are kept;
// the least used ones are evicted beyond that.
func NewRateLimitPolicy(limits LimitFunc, maxTracked int64) (*RateLimitPolicy, error) {
	if maxTracked <= 0 {
		maxTracked = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *rate.Limiter]{
		NumCounters:        maxTracked * 10,
		MaxCost:            maxTracked,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &RateLimitPolicy{limits: limits, limiters: cache}, nil
}

// ID returns "rate-limit".
func (p *RateLimitPolicy) ID() auth.Policy {
	return PolicyRateLimit
}

// Execute consumes one request token or rejects with 429.
func (p *RateLimitPolicy) Execute(_ context.Context, ec *auth.ExecutionContext) error {
	rpm := p.limits(ec.Plan.ID())
	if rpm <= 0 {
		return nil
	}

	limiter := p.limiter(ec.Plan.ID()+"|"+caller(ec), rpm)
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}
	reservation.Cancel()

	return &Rejection{
		Policy:     PolicyRateLimit,
		Status:     http.StatusTooManyRequests,
		ErrorType:  "rate_limit_error",
		Reason:     "plan rate limit exceeded",
		RetryAfter: delay,
	}
}

// Close releases the bucket cache.
func (p *RateLimitPolicy) Close() {
	p.limiters.Close()
}

func (p *RateLimitPolicy) limiter(id string, rpm int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters.Get(id); ok && l.Burst() == rpm {
		return l
	}

	l := rate.NewLimiter(rate.Limit(float64(rpm)/time.Minute.Seconds()), rpm)
	p.limiters.Set(id, l, 1)
	p.limiters.Wait()
	return l
}

func caller(ec *auth.ExecutionContext) string {
	if ec.Application != "" {
		return "app:" + ec.Application
	}
	if ec.Request == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(ec.Request.RemoteAddr)
	if err != nil {
		return "ip:" + ec.Request.RemoteAddr
	}
	return "ip:" + host
}
