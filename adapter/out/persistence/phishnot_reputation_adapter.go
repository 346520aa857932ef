package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ReputationAdapter implements out.ReputationRepository using PostgreSQL.
type ReputationAdapter struct {
	db *sqlx.DB
}

// NewReputationAdapter creates a new ReputationAdapter.
func NewReputationAdapter(db *sqlx.DB) *ReputationAdapter {
	return &ReputationAdapter{db: db}
}

type reputationRow struct {
	UserID          uuid.UUID `db:"user_id"`
	CorrectCount    int       `db:"correct_count"`
	IncorrectCount  int       `db:"incorrect_count"`
	ReputationScore float64   `db:"reputation_score"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *reputationRow) toDomain() *domain.UserReputation {
	return &domain.UserReputation{
		UserID:          r.UserID,
		CorrectCount:    r.CorrectCount,
		IncorrectCount:  r.IncorrectCount,
		ReputationScore: r.ReputationScore,
		UpdatedAt:       r.UpdatedAt,
	}
}

const reputationColumns = `user_id, correct_count, incorrect_count, reputation_score, updated_at`

func (a *ReputationAdapter) Get(ctx context.Context, userID uuid.UUID) (*domain.UserReputation, error) {
	const query = `SELECT ` + reputationColumns + ` FROM user_reputation WHERE user_id = $1`

	var row reputationRow
	err := sqlx.GetContext(ctx, querier(ctx, a.db), &row, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get reputation", err)
	}
	return row.toDomain(), nil
}

// RecordOutcome is one upsert; concurrent outcomes for the same user
// serialize on the row lock.
func (a *ReputationAdapter) RecordOutcome(ctx context.Context, userID uuid.UUID, verdict domain.UserVerdict, now time.Time) (*domain.UserReputation, error) {
	const query = `
		INSERT INTO user_reputation AS r (` + reputationColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			correct_count = r.correct_count + EXCLUDED.correct_count,
			incorrect_count = r.incorrect_count + EXCLUDED.incorrect_count,
			reputation_score = (r.correct_count + EXCLUDED.correct_count)::float8
				/ (r.correct_count + r.incorrect_count + 1),
			updated_at = EXCLUDED.updated_at
		WHERE r.correct_count >= 0 AND r.incorrect_count >= 0
		RETURNING ` + reputationColumns

	correct, incorrect := 0, 0
	if verdict == domain.UserVerdictCorrect {
		correct = 1
	} else {
		incorrect = 1
	}

	var row reputationRow
	err := sqlx.GetContext(ctx, querier(ctx, a.db), &row, query,
		userID, correct, incorrect, domain.ReputationScore(correct, incorrect), now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reputation for %s has negative counts: %w", userID, domain.ErrInvariantViolation)
	}
	if err != nil {
		return nil, mapError("record reputation outcome", err)
	}
	return row.toDomain(), nil
}
