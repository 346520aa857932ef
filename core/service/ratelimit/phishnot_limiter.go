package ratelimit

import (
	"context"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"
	"phishnot_server/pkg/resilience"

	"github.com/google/uuid"
)

// Endpoint names used as rate limit keys.
const (
	EndpointFeedback  = "feedback"
	EndpointClassify  = "classify"
	EndpointAnalytics = "analytics"
	EndpointSettings  = "settings"
)

// Policy is the limit for one endpoint. Mutating endpoints fail closed when
// the store is unavailable; read-only endpoints fail open.
type Policy struct {
	Limit    int
	Window   time.Duration
	Mutating bool
}

// Limiter is the fixed-window gate in front of the API.
type Limiter struct {
	store    out.RateLimitStore
	policies map[string]Policy
	breaker  *resilience.Breaker
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *logger.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMetrics records every decision.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithBreaker routes store calls through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(l *Limiter) { l.breaker = b }
}

// NewLimiter creates a limiter over store with the given per-endpoint policies.
func NewLimiter(store out.RateLimitStore, policies map[string]Policy, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
		log:      logger.WithField("component", "ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the registered policy for endpoint.
func (l *Limiter) Policy(endpoint string) (Policy, bool) {
	p, ok := l.policies[endpoint]
	return p, ok
}

// Allow consumes one request for (userID, endpoint). It never returns an
// error: when the store is unavailable the decision is made by the
// endpoint's fail policy and marked Degraded. Unknown endpoints are allowed.
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID, endpoint string) *domain.RateLimitDecision {
	policy, ok := l.policies[endpoint]
	if !ok {
		return &domain.RateLimitDecision{Allowed: true, Limit: -1, Remaining: -1}
	}
	return l.AllowN(ctx, userID, endpoint, policy)
}

// AllowN is Allow with an explicit policy.
func (l *Limiter) AllowN(ctx context.Context, userID uuid.UUID, endpoint string, policy Policy) *domain.RateLimitDecision {
	now := l.now()

	var hit *domain.RateLimitHit
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		hit, err = l.store.Hit(ctx, userID, endpoint, policy.Limit, policy.Window, now)
		return err
	})
	if err != nil {
		decision := &domain.RateLimitDecision{
			Allowed:  !policy.Mutating,
			Limit:    policy.Limit,
			ResetAt:  now.Add(policy.Window),
			Degraded: true,
		}
		l.log.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"endpoint": endpoint,
			"allowed":  decision.Allowed,
		}).Warn("rate limit store unavailable, failing %s", failMode(policy))
		l.metrics.RateLimitDecision(endpoint, "degraded_"+failMode(policy))
		return decision
	}

	decision := &domain.RateLimitDecision{
		Allowed: hit.Allowed,
		Limit:   policy.Limit,
		ResetAt: hit.Window.WindowEnd,
	}
	if hit.Allowed {
		decision.Remaining = max(policy.Limit-hit.Window.RequestCount, 0)
		l.metrics.RateLimitDecision(endpoint, "allowed")
	} else {
		l.metrics.RateLimitDecision(endpoint, "denied")
	}
	return decision
}

// Status reports the active window without consuming a request.
func (l *Limiter) Status(ctx context.Context, userID uuid.UUID, endpoint string) (*domain.RateLimitDecision, error) {
	policy, ok := l.policies[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: unknown endpoint %q", domain.ErrNotFound, endpoint)
	}
	now := l.now()

	var window *domain.RateLimitWindow
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		window, err = l.store.Current(ctx, userID, endpoint, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if window == nil {
		return &domain.RateLimitDecision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit}, nil
	}
	remaining := max(policy.Limit-window.RequestCount, 0)
	return &domain.RateLimitDecision{
		Allowed:   remaining > 0,
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetAt:   window.WindowEnd,
	}, nil
}

func (l *Limiter) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.breaker == nil {
		return fn(ctx)
	}
	return l.breaker.Do(ctx, fn)
}

func failMode(p Policy) string {
	if p.Mutating {
		return "closed"
	}
	return "open"
}
