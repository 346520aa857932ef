package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPhishingThreshold    = 5
	DefaultAlertCooldownMinutes = 60
)

// AlertSettings is a user's alerting preference.
type AlertSettings struct {
	UserID            uuid.UUID `json:"user_id"`
	PhishingThreshold int       `json:"phishing_threshold"`
	CooldownMinutes   int       `json:"cooldown_minutes"`
	Enabled           bool      `json:"enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultAlertSettings is used when the user never saved settings.
func DefaultAlertSettings(userID uuid.UUID) *AlertSettings {
	return &AlertSettings{
		UserID:            userID,
		PhishingThreshold: DefaultPhishingThreshold,
		CooldownMinutes:   DefaultAlertCooldownMinutes,
		Enabled:           true,
	}
}

func (s *AlertSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

// AlertEvent is emitted once per threshold crossing.
type AlertEvent struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	PhishingCount int       `json:"phishing_count"`
	Threshold     int       `json:"threshold"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	CreatedAt     time.Time `json:"created_at"`
}
