package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RateLimitAdapter implements out.RateLimitStore using PostgreSQL. Every
// window is kept; expired rows are history.
type RateLimitAdapter struct {
	db *sqlx.DB
}

// NewRateLimitAdapter creates a new RateLimitAdapter.
func NewRateLimitAdapter(db *sqlx.DB) *RateLimitAdapter {
	return &RateLimitAdapter{db: db}
}

type windowRow struct {
	UserID       uuid.UUID `db:"user_id"`
	Endpoint     string    `db:"endpoint"`
	WindowStart  time.Time `db:"window_start"`
	WindowEnd    time.Time `db:"window_end"`
	RequestCount int       `db:"request_count"`
}

func (r *windowRow) toDomain() domain.RateLimitWindow {
	return domain.RateLimitWindow{
		UserID:       r.UserID,
		Endpoint:     r.Endpoint,
		WindowStart:  r.WindowStart,
		WindowEnd:    r.WindowEnd,
		RequestCount: r.RequestCount,
	}
}

const (
	windowColumns = `user_id, endpoint, window_start, window_end, request_count`

	activeWindowQuery = `
		SELECT ` + windowColumns + `
		FROM rate_limit_windows
		WHERE user_id = $1 AND endpoint = $2 AND window_start <= $3 AND window_end > $3
		ORDER BY window_start DESC
		LIMIT 1
	`
)

// Hit runs under a transaction-scoped advisory lock on the key, so the
// read-then-write below cannot interleave with another Hit on the same key.
func (a *RateLimitAdapter) Hit(ctx context.Context, userID uuid.UUID, endpoint string, limit int, window time.Duration, now time.Time) (*domain.RateLimitHit, error) {
	var hit *domain.RateLimitHit

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, mapError("rate limit begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID.String()+":"+endpoint); err != nil {
		return nil, mapError("rate limit lock", err)
	}

	var current windowRow
	err = tx.GetContext(ctx, &current, activeWindowQuery, userID, endpoint, now)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fresh := windowRow{
			UserID:       userID,
			Endpoint:     endpoint,
			WindowStart:  now,
			WindowEnd:    now.Add(window),
			RequestCount: 1,
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO rate_limit_windows (`+windowColumns+`)
			VALUES (:user_id, :endpoint, :window_start, :window_end, :request_count)
		`, fresh); err != nil {
			return nil, mapError("rate limit insert", err)
		}
		hit = &domain.RateLimitHit{Allowed: true, Window: fresh.toDomain()}

	case err != nil:
		return nil, mapError("rate limit select", err)

	default:
		var count int
		err = tx.GetContext(ctx, &count, `
			UPDATE rate_limit_windows
			SET request_count = request_count + 1
			WHERE user_id = $1 AND endpoint = $2 AND window_start = $3 AND request_count < $4
			RETURNING request_count
		`, userID, endpoint, current.WindowStart, limit)
		if errors.Is(err, sql.ErrNoRows) {
			hit = &domain.RateLimitHit{Allowed: false, Window: current.toDomain()}
			break
		}
		if err != nil {
			return nil, mapError("rate limit increment", err)
		}
		current.RequestCount = count
		hit = &domain.RateLimitHit{Allowed: true, Window: current.toDomain()}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError("rate limit commit", err)
	}
	return hit, nil
}

func (a *RateLimitAdapter) Current(ctx context.Context, userID uuid.UUID, endpoint string, now time.Time) (*domain.RateLimitWindow, error) {
	var row windowRow
	err := a.db.GetContext(ctx, &row, activeWindowQuery, userID, endpoint, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("rate limit current", err)
	}
	w := row.toDomain()
	return &w, nil
}
