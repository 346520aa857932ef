package middleware

import (
	"context"
	"strconv"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Limiter consumes one request for (user, endpoint).
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, endpoint string) *domain.RateLimitDecision
}

// RateLimit gates a route per authenticated user. It must run after JWTAuth.
// A degraded deny (store unavailable, mutating endpoint) is a 503, not a 429.
func RateLimit(limiter Limiter, endpoint string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("user_id").(uuid.UUID)
		if !ok {
			return apperr.Unauthorized("")
		}

		decision := limiter.Allow(c.UserContext(), userID, endpoint)
		SetRateLimitHeaders(c, decision)
		if decision.Allowed {
			return c.Next()
		}
		if decision.Degraded {
			return apperr.StoreUnavailable(nil)
		}
		return RateLimitedError(c, decision)
	}
}

// SetRateLimitHeaders writes X-RateLimit-* for a decision with a known limit.
func SetRateLimitHeaders(c *fiber.Ctx, d *domain.RateLimitDecision) {
	if d == nil || d.Limit < 0 {
		return
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// RateLimitedError builds the 429 error and sets Retry-After.
func RateLimitedError(c *fiber.Ctx, d *domain.RateLimitDecision) error {
	retryAfter := int(time.Until(d.ResetAt).Seconds() + 0.999)
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	return apperr.RateLimited(d.ResetAt.Unix(), retryAfter)
}
