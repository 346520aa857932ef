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

// FeedbackAdapter implements out.FeedbackRepository using PostgreSQL.
type FeedbackAdapter struct {
	db *sqlx.DB
}

// NewFeedbackAdapter creates a new FeedbackAdapter.
func NewFeedbackAdapter(db *sqlx.DB) *FeedbackAdapter {
	return &FeedbackAdapter{db: db}
}

type feedbackRow struct {
	ID               uuid.UUID      `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	ClassificationID uuid.UUID      `db:"classification_id"`
	UserVerdict      string         `db:"user_verdict"`
	ReasonText       sql.NullString `db:"reason_text"`
	Status           string         `db:"status"`
	ValidationScore  float64        `db:"validation_score"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *feedbackRow) toDomain() *domain.FeedbackEvent {
	ev := &domain.FeedbackEvent{
		ID:               r.ID,
		UserID:           r.UserID,
		ClassificationID: r.ClassificationID,
		UserVerdict:      domain.UserVerdict(r.UserVerdict),
		Status:           domain.FeedbackStatus(r.Status),
		ValidationScore:  r.ValidationScore,
		CreatedAt:        r.CreatedAt,
	}
	if r.ReasonText.Valid {
		reason := r.ReasonText.String
		ev.ReasonText = &reason
	}
	return ev
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

const feedbackColumns = `id, user_id, classification_id, user_verdict, reason_text, status, validation_score, created_at`

func (a *FeedbackAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackEvent, error) {
	const query = `SELECT ` + feedbackColumns + ` FROM feedback_events WHERE id = $1`

	var row feedbackRow
	if err := sqlx.GetContext(ctx, querier(ctx, a.db), &row, query, id); err != nil {
		return nil, mapError("get feedback", err)
	}
	return row.toDomain(), nil
}

// save inserts ev with status, or overwrites a rejected row with the same id
// owned by the same user. An accepted row is never touched; a row owned by
// another user is reported as ErrConflict.
func (a *FeedbackAdapter) save(ctx context.Context, op string, ev *domain.FeedbackEvent, status domain.FeedbackStatus) error {
	const query = `
		INSERT INTO feedback_events (` + feedbackColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			classification_id = EXCLUDED.classification_id,
			user_verdict = EXCLUDED.user_verdict,
			reason_text = EXCLUDED.reason_text,
			status = EXCLUDED.status,
			validation_score = EXCLUDED.validation_score,
			created_at = EXCLUDED.created_at
		WHERE feedback_events.status = 'rejected'
			AND feedback_events.user_id = EXCLUDED.user_id
		RETURNING id
	`

	var id uuid.UUID
	err := sqlx.GetContext(ctx, querier(ctx, a.db), &id, query,
		ev.ID, ev.UserID, ev.ClassificationID, string(ev.UserVerdict), nullString(ev.ReasonText),
		string(status), ev.ValidationScore, ev.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return a.conflictReason(ctx, op, ev)
	}
	return mapError(op, err)
}

// conflictReason explains why the upsert left the existing row alone.
func (a *FeedbackAdapter) conflictReason(ctx context.Context, op string, ev *domain.FeedbackEvent) error {
	const query = `SELECT user_id FROM feedback_events WHERE id = $1`

	var owner uuid.UUID
	if err := sqlx.GetContext(ctx, querier(ctx, a.db), &owner, query, ev.ID); err != nil {
		return mapError(op, err)
	}
	if owner != ev.UserID {
		return fmt.Errorf("%s %s: owned by another user: %w", op, ev.ID, domain.ErrConflict)
	}
	return fmt.Errorf("%s %s: %w", op, ev.ID, domain.ErrDuplicate)
}

func (a *FeedbackAdapter) SaveAccepted(ctx context.Context, ev *domain.FeedbackEvent) error {
	return a.save(ctx, "save accepted feedback", ev, domain.FeedbackStatusAccepted)
}

func (a *FeedbackAdapter) SaveRejected(ctx context.Context, ev *domain.FeedbackEvent) error {
	return a.save(ctx, "save rejected feedback", ev, domain.FeedbackStatusRejected)
}

func (a *FeedbackAdapter) RecentAccepted(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.FeedbackEvent, error) {
	const query = `
		SELECT ` + feedbackColumns + `
		FROM feedback_events
		WHERE user_id = $1 AND status = 'accepted'
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	var rows []feedbackRow
	if err := sqlx.SelectContext(ctx, querier(ctx, a.db), &rows, query, userID, limit); err != nil {
		return nil, mapError("recent feedback", err)
	}
	out := make([]*domain.FeedbackEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (a *FeedbackAdapter) StatsByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) (domain.FeedbackStats, error) {
	const query = `
		SELECT
			count(*) FILTER (WHERE status = 'accepted') AS accepted,
			count(*) FILTER (WHERE status = 'rejected') AS rejected,
			count(*) FILTER (WHERE status = 'accepted' AND user_verdict = 'incorrect') AS incorrect
		FROM feedback_events
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
	`

	var row struct {
		Accepted  int `db:"accepted"`
		Rejected  int `db:"rejected"`
		Incorrect int `db:"incorrect"`
	}
	if err := sqlx.GetContext(ctx, querier(ctx, a.db), &row, query, userID, from, to); err != nil {
		return domain.FeedbackStats{}, mapError("feedback stats", err)
	}
	return domain.FeedbackStats{Accepted: row.Accepted, Rejected: row.Rejected, Incorrect: row.Incorrect}, nil
}
