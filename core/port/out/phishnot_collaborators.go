package out

import (
	"context"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
)

// Classifier is the external text scorer.
type Classifier interface {
	Classify(ctx context.Context, emailText string) (*domain.ClassificationResult, error)
}

// AuditSink receives every feedback decision. Failures must not fail the request.
type AuditSink interface {
	Record(ctx context.Context, entry *domain.FeedbackAuditEntry) error
}

// AuditReader reads back the decision trail of one feedback id, oldest first.
type AuditReader interface {
	ListByFeedback(ctx context.Context, feedbackID uuid.UUID) ([]*domain.FeedbackAuditEntry, error)
}

// EventPublisher fans committed facts out to other processes.
type EventPublisher interface {
	PublishFeedbackAccepted(ctx context.Context, ev *domain.FeedbackAcceptedEvent) error
	PublishAlert(ctx context.Context, ev *domain.AlertEvent) error
}

// PatternGraph is an eventually consistent projection of accepted feedback.
type PatternGraph interface {
	Project(ctx context.Context, ev *domain.FeedbackAcceptedEvent) error
}

// Cache is a JSON value cache. A miss is (false, nil).
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
