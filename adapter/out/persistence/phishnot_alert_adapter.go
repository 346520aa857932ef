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

// AlertAdapter implements out.AlertRepository and out.AlertStateStore using PostgreSQL.
type AlertAdapter struct {
	db *sqlx.DB
}

// NewAlertAdapter creates a new AlertAdapter.
func NewAlertAdapter(db *sqlx.DB) *AlertAdapter {
	return &AlertAdapter{db: db}
}

// =============================================================================
// Settings
// =============================================================================

type alertSettingsRow struct {
	UserID            uuid.UUID `db:"user_id"`
	PhishingThreshold int       `db:"phishing_threshold"`
	CooldownMinutes   int       `db:"cooldown_minutes"`
	Enabled           bool      `db:"enabled"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (a *AlertAdapter) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.AlertSettings, error) {
	const query = `
		SELECT user_id, phishing_threshold, cooldown_minutes, enabled, updated_at
		FROM alert_settings WHERE user_id = $1
	`

	var row alertSettingsRow
	err := a.db.GetContext(ctx, &row, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get alert settings", err)
	}
	return &domain.AlertSettings{
		UserID:            row.UserID,
		PhishingThreshold: row.PhishingThreshold,
		CooldownMinutes:   row.CooldownMinutes,
		Enabled:           row.Enabled,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (a *AlertAdapter) SaveSettings(ctx context.Context, s *domain.AlertSettings) error {
	const query = `
		INSERT INTO alert_settings (user_id, phishing_threshold, cooldown_minutes, enabled, updated_at)
		VALUES (:user_id, :phishing_threshold, :cooldown_minutes, :enabled, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			phishing_threshold = EXCLUDED.phishing_threshold,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`
	_, err := a.db.NamedExecContext(ctx, query, alertSettingsRow{
		UserID:            s.UserID,
		PhishingThreshold: s.PhishingThreshold,
		CooldownMinutes:   s.CooldownMinutes,
		Enabled:           s.Enabled,
		UpdatedAt:         s.UpdatedAt,
	})
	return mapError("save alert settings", err)
}

// =============================================================================
// Events
// =============================================================================

type alertEventRow struct {
	ID            uuid.UUID `db:"id"`
	UserID        uuid.UUID `db:"user_id"`
	PhishingCount int       `db:"phishing_count"`
	Threshold     int       `db:"threshold"`
	WindowStart   time.Time `db:"window_start"`
	WindowEnd     time.Time `db:"window_end"`
	CreatedAt     time.Time `db:"created_at"`
}

func (a *AlertAdapter) SaveEvent(ctx context.Context, ev *domain.AlertEvent) error {
	const query = `
		INSERT INTO alert_events (id, user_id, phishing_count, threshold, window_start, window_end, created_at)
		VALUES (:id, :user_id, :phishing_count, :threshold, :window_start, :window_end, :created_at)
	`
	_, err := a.db.NamedExecContext(ctx, query, alertEventRow(*ev))
	return mapError("save alert event", err)
}

func (a *AlertAdapter) ListEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.AlertEvent, error) {
	const query = `
		SELECT id, user_id, phishing_count, threshold, window_start, window_end, created_at
		FROM alert_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var rows []alertEventRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, mapError("list alert events", err)
	}
	out := make([]*domain.AlertEvent, len(rows))
	for i := range rows {
		ev := domain.AlertEvent(rows[i])
		out[i] = &ev
	}
	return out, nil
}

// =============================================================================
// State (crossing + cooldown)
// =============================================================================

func (a *AlertAdapter) MarkAbove(ctx context.Context, userID uuid.UUID) (bool, error) {
	const query = `
		INSERT INTO alert_state AS s (user_id, above) VALUES ($1, TRUE)
		ON CONFLICT (user_id) DO UPDATE SET above = TRUE
		WHERE s.above = FALSE
		RETURNING user_id
	`
	return a.flip(ctx, "mark alert above", query, userID)
}

func (a *AlertAdapter) MarkBelow(ctx context.Context, userID uuid.UUID) error {
	const query = `UPDATE alert_state SET above = FALSE WHERE user_id = $1 AND above`
	_, err := a.db.ExecContext(ctx, query, userID)
	return mapError("mark alert below", err)
}

func (a *AlertAdapter) ClaimCooldown(ctx context.Context, userID uuid.UUID, cooldown time.Duration, now time.Time) (bool, error) {
	const query = `
		INSERT INTO alert_state AS s (user_id, above, last_alert_at) VALUES ($1, TRUE, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_alert_at = EXCLUDED.last_alert_at
		WHERE s.last_alert_at IS NULL
		   OR s.last_alert_at <= EXCLUDED.last_alert_at - make_interval(secs => $3::float8)
		RETURNING user_id
	`
	return a.flip(ctx, "claim alert cooldown", query, userID, now, cooldown.Seconds())
}

func (a *AlertAdapter) ReleaseCooldown(ctx context.Context, userID uuid.UUID, claimedAt time.Time) error {
	const query = `UPDATE alert_state SET last_alert_at = NULL WHERE user_id = $1 AND last_alert_at = $2`
	_, err := a.db.ExecContext(ctx, query, userID, claimedAt)
	return mapError("release alert cooldown", err)
}

// flip runs a conditional upsert; a returned row means this caller won.
func (a *AlertAdapter) flip(ctx context.Context, op, query string, args ...any) (bool, error) {
	var id uuid.UUID
	err := a.db.GetContext(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapError(op, err)
	}
	return true, nil
}
