package reputation

import (
	"context"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"

	"github.com/google/uuid"
)

// Tracker maintains each user's correct/incorrect feedback ratio.
type Tracker struct {
	repo    out.ReputationRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker creates a tracker over repo.
func NewTracker(repo out.ReputationRepository, m *metrics.Metrics) *Tracker {
	return &Tracker{repo: repo, metrics: m, now: time.Now}
}

// Get returns the user's reputation, or the default row when none exists.
func (t *Tracker) Get(ctx context.Context, userID uuid.UUID) (*domain.UserReputation, error) {
	rep, err := t.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	if rep == nil {
		return domain.NewUserReputation(userID), nil
	}
	return rep, nil
}

// RecordOutcome applies one accepted feedback to the user's counters. The
// caller guarantees it runs once per accepted event.
func (t *Tracker) RecordOutcome(ctx context.Context, userID uuid.UUID, verdict domain.UserVerdict) (*domain.UserReputation, error) {
	if !verdict.IsValid() {
		return nil, fmt.Errorf("%w: user verdict %q", domain.ErrInvalidInput, verdict)
	}
	rep, err := t.repo.RecordOutcome(ctx, userID, verdict, t.now())
	if err != nil {
		return nil, fmt.Errorf("failed to record reputation outcome: %w", err)
	}
	// the store computes the score; verify it agrees
	if err := rep.Check(); err != nil {
		t.metrics.InvariantViolation()
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user":            userID.String(),
			"correct_count":   rep.CorrectCount,
			"incorrect_count": rep.IncorrectCount,
			"score":           rep.ReputationScore,
		}).Error("reputation invariant violated")
		return nil, err
	}
	return rep, nil
}
