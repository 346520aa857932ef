package domain

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitWindow is a fixed counting window for one (user, endpoint).
// Expired windows are kept as history and never mutated again.
type RateLimitWindow struct {
	UserID       uuid.UUID `json:"user_id"`
	Endpoint     string    `json:"endpoint"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	RequestCount int       `json:"request_count"`
}

// Active reports whether now falls inside [WindowStart, WindowEnd).
func (w *RateLimitWindow) Active(now time.Time) bool {
	return !now.Before(w.WindowStart) && now.Before(w.WindowEnd)
}

// RateLimitHit is the atomic outcome of one create-or-increment.
type RateLimitHit struct {
	Window  RateLimitWindow
	Allowed bool
}

// RateLimitDecision is what callers see.
type RateLimitDecision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// Degraded is set when the store was unavailable and the fail policy decided.
	Degraded bool `json:"degraded,omitempty"`
}
