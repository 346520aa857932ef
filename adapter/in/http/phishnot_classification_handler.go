package http

import (
	"phishnot_server/core/domain"
	"phishnot_server/core/port/in"
	"phishnot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type ClassificationHandler struct {
	service in.ClassificationService
}

func NewClassificationHandler(service in.ClassificationService) *ClassificationHandler {
	return &ClassificationHandler{service: service}
}

// Register mounts the routes. mw runs before Classify only (rate limiting).
func (h *ClassificationHandler) Register(router fiber.Router, mw ...fiber.Handler) {
	cl := router.Group("/classifications")
	cl.Post("/", chain(mw, h.Classify)...)
	cl.Get("/:id", h.Get)
}

// classifyRequest accepts either the raw email text or its parts.
type classifyRequest struct {
	Email   string `json:"email"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (r *classifyRequest) toSubmission() *domain.EmailSubmission {
	body := r.Body
	if body == "" {
		body = r.Email
	}
	return &domain.EmailSubmission{Sender: r.Sender, Subject: r.Subject, Body: body}
}

// Classify handles POST /classifications.
func (h *ClassificationHandler) Classify(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req classifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	view, err := h.service.Classify(c.UserContext(), userID, req.toSubmission())
	if err != nil {
		return err
	}
	return response.Created(c, view)
}

// Get handles GET /classifications/:id.
func (h *ClassificationHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	view, err := h.service.Get(c.UserContext(), userID, id)
	if err != nil {
		return err
	}
	return response.OK(c, view)
}
