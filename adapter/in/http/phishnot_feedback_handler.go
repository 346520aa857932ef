package http

import (
	"strings"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/in"
	"phishnot_server/infra/middleware"
	"phishnot_server/pkg/apperr"
	"phishnot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// MaxReasonLength bounds the free-text reason on a correction.
const MaxReasonLength = 2000

type FeedbackHandler struct {
	service in.FeedbackService
}

func NewFeedbackHandler(service in.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{service: service}
}

func (h *FeedbackHandler) Register(router fiber.Router) {
	fb := router.Group("/feedback")
	fb.Post("/", h.Submit)
	fb.Get("/:id/audit", h.Audit)
}

type submitFeedbackRequest struct {
	ID               string  `json:"id"`
	ClassificationID string  `json:"classification_id"`
	UserVerdict      string  `json:"user_verdict"`
	ReasonText       *string `json:"reason_text"`
}

func (r *submitFeedbackRequest) toSubmission(userID uuid.UUID) (*domain.FeedbackSubmission, error) {
	sub := &domain.FeedbackSubmission{
		UserID:      userID,
		UserVerdict: domain.UserVerdict(strings.ToLower(strings.TrimSpace(r.UserVerdict))),
	}
	if r.ID != "" {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, apperr.InvalidInput("id", "must be a UUID")
		}
		sub.ID = id
	}
	if r.ClassificationID == "" {
		return nil, apperr.MissingField("classification_id")
	}
	cid, err := uuid.Parse(r.ClassificationID)
	if err != nil {
		return nil, apperr.InvalidInput("classification_id", "must be a UUID")
	}
	sub.ClassificationID = cid
	if !sub.UserVerdict.IsValid() {
		return nil, apperr.InvalidInput("user_verdict", "must be correct or incorrect")
	}
	if r.ReasonText != nil {
		reason := strings.TrimSpace(*r.ReasonText)
		if len([]rune(reason)) > MaxReasonLength {
			return nil, apperr.InvalidInput("reason_text", "too long")
		}
		if reason != "" {
			sub.ReasonText = &reason
		}
	}
	return sub, nil
}

// Submit handles POST /feedback. Rejection is a 200 with accepted=false;
// rate limiting is a 429 carrying reset_at.
func (h *FeedbackHandler) Submit(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req submitFeedbackRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sub, err := req.toSubmission(userID)
	if err != nil {
		return err
	}

	res, err := h.service.Submit(c.UserContext(), sub)
	if err != nil {
		return err
	}

	middleware.SetRateLimitHeaders(c, res.RateLimit)
	if res.Outcome == domain.OutcomeRateLimited {
		return middleware.RateLimitedError(c, res.RateLimit)
	}
	return response.OK(c, res)
}

// Audit handles GET /feedback/:id/audit.
func (h *FeedbackHandler) Audit(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	feedbackID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	entries, err := h.service.Trail(c.UserContext(), userID, feedbackID)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, entries, &response.Meta{Total: len(entries)})
}
