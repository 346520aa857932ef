package in

import (
	"context"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
)

// FeedbackService accepts or rejects user corrections.
type FeedbackService interface {
	Submit(ctx context.Context, sub *domain.FeedbackSubmission) (*domain.SubmissionResult, error)
	// Trail returns the caller's audit entries for one feedback id.
	Trail(ctx context.Context, userID, feedbackID uuid.UUID) ([]*domain.FeedbackAuditEntry, error)
}

// ClassificationService records classifier runs.
type ClassificationService interface {
	Classify(ctx context.Context, userID uuid.UUID, email *domain.EmailSubmission) (*ClassificationView, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*ClassificationView, error)
}

// AnalyticsService serves read-only rollups.
type AnalyticsService interface {
	Get(ctx context.Context, userID uuid.UUID, period domain.Period) (*domain.Analytics, error)
}

// ReputationService exposes a user's reputation row.
type ReputationService interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserReputation, error)
}

// PatternService exposes learned pattern weights.
type PatternService interface {
	Top(ctx context.Context, patternType domain.PatternType, limit int) ([]*domain.PatternWeight, error)
	Adjust(ctx context.Context, rec *domain.ClassificationRecord) (*domain.Adjustment, error)
}

// AlertService manages settings and threshold evaluation.
type AlertService interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (*domain.AlertSettings, error)
	UpdateSettings(ctx context.Context, userID uuid.UUID, req *UpdateAlertSettingsRequest) (*domain.AlertSettings, error)
	Evaluate(ctx context.Context, rec *domain.ClassificationRecord) (*domain.AlertEvent, error)
	ListEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.AlertEvent, error)
}

// RateLimitService gates requests per (user, endpoint).
type RateLimitService interface {
	Allow(ctx context.Context, userID uuid.UUID, endpoint string) *domain.RateLimitDecision
	Status(ctx context.Context, userID uuid.UUID, endpoint string) (*domain.RateLimitDecision, error)
}

// ClassificationView pairs a stored record with the pattern-adjusted score.
type ClassificationView struct {
	Record     *domain.ClassificationRecord `json:"classification"`
	Adjustment *domain.Adjustment           `json:"adjustment,omitempty"`
	Alert      *domain.AlertEvent           `json:"alert,omitempty"`
}

// UpdateAlertSettingsRequest is a partial update; nil fields are unchanged.
type UpdateAlertSettingsRequest struct {
	PhishingThreshold *int  `json:"phishing_threshold"`
	CooldownMinutes   *int  `json:"cooldown_minutes"`
	Enabled           *bool `json:"enabled"`
}
