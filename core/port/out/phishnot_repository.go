package out

import (
	"context"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
)

// Transactor runs fn atomically. Repositories called with the ctx passed to
// fn join the transaction; an error from fn rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ClassificationRepository stores append-only classifier runs.
type ClassificationRepository interface {
	Create(ctx context.Context, rec *domain.ClassificationRecord) error
	// GetByID returns domain.ErrNotFound when the record does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ClassificationRecord, error)
	// ListByUser returns records created in [from, to], newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.ClassificationRecord, error)
	CountPhishingSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// FeedbackRepository stores corrections keyed by their client-supplied id.
type FeedbackRepository interface {
	// GetByID returns domain.ErrNotFound when the event does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackEvent, error)
	// SaveAccepted inserts the event, or promotes a previously rejected row with
	// the same id. Returns domain.ErrDuplicate if the id is already accepted.
	SaveAccepted(ctx context.Context, ev *domain.FeedbackEvent) error
	// SaveRejected records a rejected decision for audit. Returns
	// domain.ErrDuplicate if the id is already accepted.
	SaveRejected(ctx context.Context, ev *domain.FeedbackEvent) error
	// RecentAccepted returns up to limit accepted events, newest first.
	RecentAccepted(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.FeedbackEvent, error)
	StatsByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) (domain.FeedbackStats, error)
}

// ReputationRepository owns the per-user reputation row.
type ReputationRepository interface {
	// Get returns nil, nil when the user has no row yet.
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserReputation, error)
	// RecordOutcome atomically increments the counter for verdict and
	// recomputes the score, creating the row if needed.
	RecordOutcome(ctx context.Context, userID uuid.UUID, verdict domain.UserVerdict, now time.Time) (*domain.UserReputation, error)
}

// PatternWeightRepository owns the shared pattern rows.
type PatternWeightRepository interface {
	GetMany(ctx context.Context, keys []domain.PatternKey) ([]*domain.PatternWeight, error)
	// Apply folds update into its row as a single atomic step. Returns
	// domain.ErrInvariantViolation without writing if the stored row is corrupt.
	Apply(ctx context.Context, update domain.PatternUpdate, bound float64, now time.Time) (*domain.PatternWeight, error)
	// Top returns rows ordered by |boost| desc. An empty patternType means all types.
	Top(ctx context.Context, patternType domain.PatternType, limit int) ([]*domain.PatternWeight, error)
}

// RateLimitStore performs the atomic create-or-increment for one key.
type RateLimitStore interface {
	Hit(ctx context.Context, userID uuid.UUID, endpoint string, limit int, window time.Duration, now time.Time) (*domain.RateLimitHit, error)
	// Current returns the active window, or nil when none is active at now.
	Current(ctx context.Context, userID uuid.UUID, endpoint string, now time.Time) (*domain.RateLimitWindow, error)
}

// AlertRepository persists settings and emitted alerts.
type AlertRepository interface {
	// GetSettings returns nil, nil when the user never saved settings.
	GetSettings(ctx context.Context, userID uuid.UUID) (*domain.AlertSettings, error)
	SaveSettings(ctx context.Context, settings *domain.AlertSettings) error
	SaveEvent(ctx context.Context, ev *domain.AlertEvent) error
	ListEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.AlertEvent, error)
}

// AlertStateStore tracks threshold crossings and cooldowns per user.
type AlertStateStore interface {
	// MarkAbove flips the user to above-threshold. True means this call made
	// the transition, which is what counts as a crossing.
	MarkAbove(ctx context.Context, userID uuid.UUID) (bool, error)
	MarkBelow(ctx context.Context, userID uuid.UUID) error
	// ClaimCooldown records an emission at now unless one was recorded within
	// cooldown. True means the caller may emit.
	ClaimCooldown(ctx context.Context, userID uuid.UUID, cooldown time.Duration, now time.Time) (bool, error)
	// ReleaseCooldown undoes the claim made at claimedAt. A later claim is
	// left in place.
	ReleaseCooldown(ctx context.Context, userID uuid.UUID, claimedAt time.Time) error
}
