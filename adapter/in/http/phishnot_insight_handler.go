package http

import (
	"phishnot_server/core/domain"
	"phishnot_server/core/port/in"
	"phishnot_server/pkg/apperr"
	"phishnot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// InsightHandler serves the read-only views over reputation, learned
// pattern weights and rate limit windows.
type InsightHandler struct {
	reputation in.ReputationService
	patterns   in.PatternService
	limits     in.RateLimitService
}

func NewInsightHandler(reputation in.ReputationService, patterns in.PatternService, limits in.RateLimitService) *InsightHandler {
	return &InsightHandler{reputation: reputation, patterns: patterns, limits: limits}
}

func (h *InsightHandler) Register(router fiber.Router, mw ...fiber.Handler) {
	router.Get("/reputation", chain(mw, h.Reputation)...)
	router.Get("/patterns", chain(mw, h.Patterns)...)
	router.Get("/rate-limit", h.RateLimit)
}

// Reputation handles GET /reputation.
func (h *InsightHandler) Reputation(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	rep, err := h.reputation.Get(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.OK(c, rep)
}

// Patterns handles GET /patterns?type=&limit=.
func (h *InsightHandler) Patterns(c *fiber.Ctx) error {
	patternType := domain.PatternType(c.Query("type"))
	if patternType != "" && !patternType.IsValid() {
		return apperr.InvalidInput("type", "unknown pattern type")
	}
	limit := response.QueryLimit(c, 20, 100)

	weights, err := h.patterns.Top(c.UserContext(), patternType, limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, weights, &response.Meta{Total: len(weights), Limit: limit})
}

// RateLimit handles GET /rate-limit?endpoint=feedback. It never consumes a request.
func (h *InsightHandler) RateLimit(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	endpoint := c.Query("endpoint", "feedback")

	status, err := h.limits.Status(c.UserContext(), userID, endpoint)
	if err != nil {
		return err
	}
	return response.OK(c, status)
}
