package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultReputationScore applies to users with no accepted feedback yet.
const DefaultReputationScore = 0.5

// UserReputation tracks how often a user's corrections turned out right.
type UserReputation struct {
	UserID          uuid.UUID `json:"user_id"`
	CorrectCount    int       `json:"correct_count"`
	IncorrectCount  int       `json:"incorrect_count"`
	ReputationScore float64   `json:"reputation_score"` // 0.0 - 1.0
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewUserReputation returns the lazily-created default row.
func NewUserReputation(userID uuid.UUID) *UserReputation {
	return &UserReputation{
		UserID:          userID,
		ReputationScore: DefaultReputationScore,
	}
}

// ReputationScore is the single source of truth for the score formula.
func ReputationScore(correct, incorrect int) float64 {
	total := correct + incorrect
	if total == 0 {
		return DefaultReputationScore
	}
	return float64(correct) / float64(total)
}

// Apply increments the counter for verdict and recomputes the score.
// Used by stores that cannot push the arithmetic into a single statement.
func (r *UserReputation) Apply(verdict UserVerdict, now time.Time) {
	switch verdict {
	case UserVerdictCorrect:
		r.CorrectCount++
	case UserVerdictIncorrect:
		r.IncorrectCount++
	}
	r.ReputationScore = ReputationScore(r.CorrectCount, r.IncorrectCount)
	r.UpdatedAt = now
}

// Check verifies the row against its invariants.
func (r *UserReputation) Check() error {
	if r.CorrectCount < 0 || r.IncorrectCount < 0 {
		return fmt.Errorf("%w: reputation %s has negative counts (%d/%d)",
			ErrInvariantViolation, r.UserID, r.CorrectCount, r.IncorrectCount)
	}
	want := ReputationScore(r.CorrectCount, r.IncorrectCount)
	if math.Abs(r.ReputationScore-want) > 1e-9 {
		return fmt.Errorf("%w: reputation %s score %.6f drifted from %.6f",
			ErrInvariantViolation, r.UserID, r.ReputationScore, want)
	}
	return nil
}
