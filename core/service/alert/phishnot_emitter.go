package alert

import (
	"context"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/in"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"

	"github.com/google/uuid"
)

const (
	maxThreshold       = 1000
	maxCooldownMinutes = 7 * 24 * 60
)

// Service owns alert settings and decides when a threshold crossing emits.
type Service struct {
	repo      out.AlertRepository
	state     out.AlertStateStore
	counts    out.ClassificationRepository
	publisher out.EventPublisher
	metrics   *metrics.Metrics
	window    time.Duration
	now       func() time.Time
}

// NewService creates the alert service. publisher and m may be nil.
func NewService(repo out.AlertRepository, state out.AlertStateStore, counts out.ClassificationRepository, publisher out.EventPublisher, m *metrics.Metrics, window time.Duration) *Service {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		state:     state,
		counts:    counts,
		publisher: publisher,
		metrics:   m,
		window:    window,
		now:       time.Now,
	}
}

// GetSettings returns the saved settings or the defaults.
func (s *Service) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.AlertSettings, error) {
	settings, err := s.repo.GetSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert settings: %w", err)
	}
	if settings == nil {
		return domain.DefaultAlertSettings(userID), nil
	}
	return settings, nil
}

// UpdateSettings applies a partial update.
func (s *Service) UpdateSettings(ctx context.Context, userID uuid.UUID, req *in.UpdateAlertSettingsRequest) (*domain.AlertSettings, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty settings update", domain.ErrInvalidInput)
	}
	settings, err := s.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.PhishingThreshold != nil {
		if *req.PhishingThreshold < 1 || *req.PhishingThreshold > maxThreshold {
			return nil, fmt.Errorf("%w: phishing_threshold must be between 1 and %d", domain.ErrInvalidInput, maxThreshold)
		}
		settings.PhishingThreshold = *req.PhishingThreshold
	}
	if req.CooldownMinutes != nil {
		if *req.CooldownMinutes < 0 || *req.CooldownMinutes > maxCooldownMinutes {
			return nil, fmt.Errorf("%w: cooldown_minutes must be between 0 and %d", domain.ErrInvalidInput, maxCooldownMinutes)
		}
		settings.CooldownMinutes = *req.CooldownMinutes
	}
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	settings.UpdatedAt = s.now()

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save alert settings: %w", err)
	}
	return settings, nil
}

// Evaluate checks the rolling phishing count after rec was recorded. It
// returns the emitted event, or nil when nothing was emitted.
//
//	below -> above : crossing, emit unless a previous alert is inside the cooldown
//	above -> above : no-op
//	above -> below : re-arm
func (s *Service) Evaluate(ctx context.Context, rec *domain.ClassificationRecord) (*domain.AlertEvent, error) {
	if rec == nil {
		return nil, nil
	}
	settings, err := s.GetSettings(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, nil
	}

	now := s.now()
	windowStart := now.Add(-s.window)
	count, err := s.counts.CountPhishingSince(ctx, rec.UserID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count phishing: %w", err)
	}

	if count < settings.PhishingThreshold {
		if err := s.state.MarkBelow(ctx, rec.UserID); err != nil {
			return nil, fmt.Errorf("failed to reset alert state: %w", err)
		}
		return nil, nil
	}

	crossed, err := s.state.MarkAbove(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark alert state: %w", err)
	}
	if !crossed {
		return nil, nil
	}

	log := logger.WithContext(ctx).WithFields(map[string]any{
		"user_id":        rec.UserID.String(),
		"phishing_count": count,
		"threshold":      settings.PhishingThreshold,
	})

	claimed, err := s.state.ClaimCooldown(ctx, rec.UserID, settings.Cooldown(), now)
	if err != nil {
		s.rearm(ctx, rec.UserID, nil, log)
		return nil, fmt.Errorf("failed to claim alert cooldown: %w", err)
	}
	if !claimed {
		s.metrics.AlertSuppressed()
		log.Info("alert suppressed by cooldown")
		return nil, nil
	}

	ev := &domain.AlertEvent{
		ID:            uuid.New(),
		UserID:        rec.UserID,
		PhishingCount: count,
		Threshold:     settings.PhishingThreshold,
		WindowStart:   windowStart,
		WindowEnd:     now,
		CreatedAt:     now,
	}
	if err := s.repo.SaveEvent(ctx, ev); err != nil {
		s.rearm(ctx, rec.UserID, &now, log)
		return nil, fmt.Errorf("failed to save alert event: %w", err)
	}
	s.metrics.AlertEmitted()
	log.Info("phishing threshold alert emitted")

	if s.publisher != nil {
		if err := s.publisher.PublishAlert(ctx, ev); err != nil {
			log.WithError(err).Warn("failed to publish alert")
		}
	}
	return ev, nil
}

// rearm undoes a crossing that did not produce an alert so the next scan
// above the threshold detects it again. claimedAt is the cooldown claim to
// release, if one was taken.
func (s *Service) rearm(ctx context.Context, userID uuid.UUID, claimedAt *time.Time, log *logger.Logger) {
	ctx = context.WithoutCancel(ctx)
	if claimedAt != nil {
		if err := s.state.ReleaseCooldown(ctx, userID, *claimedAt); err != nil {
			log.WithError(err).Warn("failed to release alert cooldown")
		}
	}
	if err := s.state.MarkBelow(ctx, userID); err != nil {
		log.WithError(err).Warn("failed to re-arm alert state")
	}
}

// ListEvents returns the user's alerts, newest first.
func (s *Service) ListEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.AlertEvent, error) {
	events, err := s.repo.ListEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	return events, nil
}
