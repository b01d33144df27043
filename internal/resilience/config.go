package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Policy combines a retry schedule with a circuit breaker. The breaker
// wraps the whole retry loop, so one exhausted loop counts as one failure.
type Policy struct {
	Retry   RetryConfig
	Breaker *CircuitBreaker
	Limiter *rate.Limiter // nil = unlimited; waited on before every attempt
}

// NewPolicy builds a Policy from plain configuration values. Non-positive
// values keep the defaults.
func NewPolicy(maxAttempts, initialBackoffMs, failureThreshold, resetTimeoutSecs int) *Policy {
	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}

	breaker := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		breaker.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		breaker.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return &Policy{Retry: retry, Breaker: NewCircuitBreaker(breaker)}
}

// WithRateLimit caps attempts at perSecond with the given burst. A
// non-positive rate removes the limit.
func (p *Policy) WithRateLimit(perSecond float64, burst int) *Policy {
	if perSecond <= 0 {
		p.Limiter = nil
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	p.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return p
}

// Run executes fn under the policy. A nil Policy runs fn once.
func (p *Policy) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	retry := p.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(operation)
	}
	call := fn
	if p.Limiter != nil {
		call = func(ctx context.Context) error {
			if err := p.Limiter.Wait(ctx); err != nil {
				return eris.Wrapf(err, "resilience: %s rate limit", operation)
			}
			return fn(ctx)
		}
	}
	attempt := func(ctx context.Context) error { return Do(ctx, retry, call) }
	if p.Breaker == nil {
		return attempt(ctx)
	}
	return p.Breaker.Execute(ctx, attempt)
}

// RunVal is Run for functions returning a value.
func RunVal[T any](ctx context.Context, p *Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
