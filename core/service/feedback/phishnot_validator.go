package feedback

import (
	"context"
	"fmt"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/google/uuid"
)

// ValidatorConfig holds the trust policy. Defaults come from config.Policy.
type ValidatorConfig struct {
	ReputationWeight      float64 // 0.7
	ConsistencyWeight     float64 // 0.3
	AcceptanceThreshold   float64 // 0.4, strictly greater to accept
	HistoryWindow         int     // 10
	MinHistory            int     // 4
	SuspiciousRatio       float64 // 0.8, strictly greater is suspicious
	SuspiciousConsistency float64 // 0.3
	NeutralConsistency    float64 // 1.0
}

// Validator scores a correction from the user's reputation and the
// consistency of their recent accepted feedback.
type Validator struct {
	reputations out.ReputationRepository
	feedback    out.FeedbackRepository
	cfg         ValidatorConfig
}

// NewValidator creates a validator.
func NewValidator(reputations out.ReputationRepository, feedback out.FeedbackRepository, cfg ValidatorConfig) *Validator {
	return &Validator{reputations: reputations, feedback: feedback, cfg: cfg}
}

// Validate scores sub for userID. It never mutates state and a rejection is a
// normal result, not an error.
func (v *Validator) Validate(ctx context.Context, userID uuid.UUID, sub *domain.FeedbackSubmission) (*domain.Validation, error) {
	if sub != nil && !sub.UserVerdict.IsValid() {
		return nil, fmt.Errorf("%w: user verdict %q", domain.ErrInvalidInput, sub.UserVerdict)
	}
	rep, err := v.reputations.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	reputationScore := domain.DefaultReputationScore
	if rep != nil {
		reputationScore = rep.ReputationScore
	}

	history, err := v.feedback.RecentAccepted(ctx, userID, v.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback history: %w", err)
	}

	return v.Score(reputationScore, history), nil
}

// Score is the pure part of Validate.
func (v *Validator) Score(reputationScore float64, history []*domain.FeedbackEvent) *domain.Validation {
	consistency := v.cfg.NeutralConsistency
	if len(history) >= v.cfg.MinHistory {
		incorrect := 0
		for _, ev := range history {
			if ev.UserVerdict == domain.UserVerdictIncorrect {
				incorrect++
			}
		}
		// the divisor is the window size, not the number of events found
		ratio := float64(incorrect) / float64(v.cfg.HistoryWindow)
		if ratio > v.cfg.SuspiciousRatio {
			consistency = v.cfg.SuspiciousConsistency
		}
	}

	score := v.cfg.ReputationWeight*reputationScore + v.cfg.ConsistencyWeight*consistency
	return &domain.Validation{
		Accepted:         score > v.cfg.AcceptanceThreshold,
		ValidationScore:  score,
		ReputationScore:  reputationScore,
		ConsistencyScore: consistency,
		HistorySize:      len(history),
	}
}
