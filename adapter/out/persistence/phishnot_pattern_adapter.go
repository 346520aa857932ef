package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phishnot_server/core/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PatternWeightAdapter implements out.PatternWeightRepository using PostgreSQL.
type PatternWeightAdapter struct {
	db *sqlx.DB
}

// NewPatternWeightAdapter creates a new PatternWeightAdapter.
func NewPatternWeightAdapter(db *sqlx.DB) *PatternWeightAdapter {
	return &PatternWeightAdapter{db: db}
}

type patternRow struct {
	PatternType     string    `db:"pattern_type"`
	PatternValue    string    `db:"pattern_value"`
	FeedbackCount   int       `db:"feedback_count"`
	ConfidenceBoost float64   `db:"confidence_boost"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *patternRow) toDomain() *domain.PatternWeight {
	return &domain.PatternWeight{
		PatternType:     domain.PatternType(r.PatternType),
		PatternValue:    r.PatternValue,
		FeedbackCount:   r.FeedbackCount,
		ConfidenceBoost: r.ConfidenceBoost,
		UpdatedAt:       r.UpdatedAt,
	}
}

const patternColumns = `pattern_type, pattern_value, feedback_count, confidence_boost, updated_at`

func (a *PatternWeightAdapter) GetMany(ctx context.Context, keys []domain.PatternKey) ([]*domain.PatternWeight, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	const query = `
		SELECT p.pattern_type, p.pattern_value, p.feedback_count, p.confidence_boost, p.updated_at
		FROM pattern_weights p
		JOIN unnest($1::text[], $2::text[]) AS k(t, v)
		  ON p.pattern_type = k.t AND p.pattern_value = k.v
		ORDER BY p.pattern_type, p.pattern_value
	`

	types := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		types[i] = string(k.Type)
		values[i] = k.Value
	}

	var rows []patternRow
	if err := sqlx.SelectContext(ctx, querier(ctx, a.db), &rows, query, pq.Array(types), pq.Array(values)); err != nil {
		return nil, mapError("get pattern weights", err)
	}
	out := make([]*domain.PatternWeight, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// Apply creates or folds into the row in one statement. The WHERE guard
// leaves a corrupt row untouched, which surfaces as no returned row.
func (a *PatternWeightAdapter) Apply(ctx context.Context, update domain.PatternUpdate, bound float64, now time.Time) (*domain.PatternWeight, error) {
	const query = `
		INSERT INTO pattern_weights AS p (` + patternColumns + `)
		VALUES ($1, $2, 1, GREATEST(-$3::float8, LEAST($3::float8, $4::float8)), $5)
		ON CONFLICT (pattern_type, pattern_value) DO UPDATE SET
			confidence_boost = GREATEST(-$3::float8, LEAST($3::float8,
				(p.confidence_boost * p.feedback_count + $4::float8) / (p.feedback_count + 1))),
			feedback_count = p.feedback_count + 1,
			updated_at = EXCLUDED.updated_at
		WHERE p.feedback_count >= 1
		  AND p.confidence_boost BETWEEN -$3::float8 AND $3::float8
		RETURNING ` + patternColumns

	var row patternRow
	err := sqlx.GetContext(ctx, querier(ctx, a.db), &row, query,
		string(update.Key.Type), update.Key.Value, bound, update.Delta, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %s: %w", update.Key, domain.ErrInvariantViolation)
	}
	if err != nil {
		return nil, mapError("apply pattern weight", err)
	}
	return row.toDomain(), nil
}

func (a *PatternWeightAdapter) Top(ctx context.Context, patternType domain.PatternType, limit int) ([]*domain.PatternWeight, error) {
	const query = `
		SELECT ` + patternColumns + `
		FROM pattern_weights
		WHERE $1::text = '' OR pattern_type = $1::text
		ORDER BY abs(confidence_boost) DESC, pattern_type, pattern_value
		LIMIT $2
	`

	var rows []patternRow
	if err := sqlx.SelectContext(ctx, querier(ctx, a.db), &rows, query, string(patternType), limit); err != nil {
		return nil, mapError("top pattern weights", err)
	}
	out := make([]*domain.PatternWeight, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
