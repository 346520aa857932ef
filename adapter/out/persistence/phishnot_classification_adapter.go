package persistence

import (
	"context"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ClassificationAdapter implements out.ClassificationRepository using PostgreSQL.
type ClassificationAdapter struct {
	db *sqlx.DB
}

// NewClassificationAdapter creates a new ClassificationAdapter.
func NewClassificationAdapter(db *sqlx.DB) *ClassificationAdapter {
	return &ClassificationAdapter{db: db}
}

type classificationRow struct {
	ID           uuid.UUID `db:"id"`
	UserID       uuid.UUID `db:"user_id"`
	SenderDomain string    `db:"sender_domain"`
	Subject      string    `db:"subject"`
	BodyExcerpt  string    `db:"body_excerpt"`
	Verdict      string    `db:"verdict"`
	Confidence   float64   `db:"confidence"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *classificationRow) toDomain() *domain.ClassificationRecord {
	return &domain.ClassificationRecord{
		ID:           r.ID,
		UserID:       r.UserID,
		SenderDomain: r.SenderDomain,
		Subject:      r.Subject,
		BodyExcerpt:  r.BodyExcerpt,
		Verdict:      domain.Verdict(r.Verdict),
		Confidence:   r.Confidence,
		CreatedAt:    r.CreatedAt,
	}
}

const classificationColumns = `id, user_id, sender_domain, subject, body_excerpt, verdict, confidence, created_at`

func (a *ClassificationAdapter) Create(ctx context.Context, rec *domain.ClassificationRecord) error {
	const query = `
		INSERT INTO classifications (` + classificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := querier(ctx, a.db).ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.SenderDomain, rec.Subject, rec.BodyExcerpt,
		string(rec.Verdict), rec.Confidence, rec.CreatedAt,
	)
	return mapError("create classification", err)
}

func (a *ClassificationAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.ClassificationRecord, error) {
	const query = `SELECT ` + classificationColumns + ` FROM classifications WHERE id = $1`

	var row classificationRow
	if err := sqlx.GetContext(ctx, querier(ctx, a.db), &row, query, id); err != nil {
		return nil, mapError("get classification", err)
	}
	return row.toDomain(), nil
}

func (a *ClassificationAdapter) ListByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.ClassificationRecord, error) {
	const query = `
		SELECT ` + classificationColumns + `
		FROM classifications
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC, id DESC
	`

	var rows []classificationRow
	if err := sqlx.SelectContext(ctx, querier(ctx, a.db), &rows, query, userID, from, to); err != nil {
		return nil, mapError("list classifications", err)
	}
	out := make([]*domain.ClassificationRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (a *ClassificationAdapter) CountPhishingSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	const query = `
		SELECT count(*) FROM classifications
		WHERE user_id = $1 AND verdict = 'phishing' AND created_at >= $2
	`

	var n int
	if err := sqlx.GetContext(ctx, querier(ctx, a.db), &n, query, userID, since); err != nil {
		return 0, mapError("count phishing", err)
	}
	return n, nil
}
