package http

import (
	"phishnot_server/core/port/in"
	"phishnot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type AlertHandler struct {
	service in.AlertService
}

func NewAlertHandler(service in.AlertService) *AlertHandler {
	return &AlertHandler{service: service}
}

// Register mounts the routes. mw runs before settings updates only.
func (h *AlertHandler) Register(router fiber.Router, mw ...fiber.Handler) {
	al := router.Group("/alerts")
	al.Get("/settings", h.GetSettings)
	al.Put("/settings", chain(mw, h.UpdateSettings)...)
	al.Get("/events", h.ListEvents)
}

// GetSettings handles GET /alerts/settings.
func (h *AlertHandler) GetSettings(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	settings, err := h.service.GetSettings(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.OK(c, settings)
}

// UpdateSettings handles PUT /alerts/settings. Absent fields keep their value.
func (h *AlertHandler) UpdateSettings(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	var req in.UpdateAlertSettingsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	settings, err := h.service.UpdateSettings(c.UserContext(), userID, &req)
	if err != nil {
		return err
	}
	return response.OK(c, settings)
}

// ListEvents handles GET /alerts/events?limit=.
func (h *AlertHandler) ListEvents(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	limit := response.QueryLimit(c, 20, 100)
	events, err := h.service.ListEvents(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, events, &response.Meta{Total: len(events), Limit: limit})
}
