package http

import (
	"phishnot_server/core/domain"
	"phishnot_server/core/port/in"
	"phishnot_server/pkg/apperr"
	"phishnot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type AnalyticsHandler struct {
	service in.AnalyticsService
}

func NewAnalyticsHandler(service in.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

func (h *AnalyticsHandler) Register(router fiber.Router, mw ...fiber.Handler) {
	router.Get("/analytics", chain(mw, h.Get)...)
}

// Get handles GET /analytics?period=7d|30d|90d.
func (h *AnalyticsHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	period, ok := domain.ParsePeriod(c.Query("period"))
	if !ok {
		return apperr.InvalidInput("period", "must be one of 7d, 30d, 90d")
	}

	analytics, err := h.service.Get(c.UserContext(), userID, period)
	if err != nil {
		return err
	}
	return response.OK(c, analytics)
}
