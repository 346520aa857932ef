package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Classifications
// =============================================================================

type ClassificationRepo struct{ s *Store }

func (r *ClassificationRepo) Create(ctx context.Context, rec *domain.ClassificationRecord) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.classifications[rec.ID]; exists {
		return fmt.Errorf("classification %s: %w", rec.ID, domain.ErrDuplicate)
	}
	r.s.classifications[rec.ID] = *rec
	return nil
}

func (r *ClassificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ClassificationRecord, error) {
	defer r.s.lock(ctx)()
	rec, ok := r.s.classifications[id]
	if !ok {
		return nil, fmt.Errorf("classification %s: %w", id, domain.ErrNotFound)
	}
	return &rec, nil
}

func (r *ClassificationRepo) ListByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.ClassificationRecord, error) {
	defer r.s.lock(ctx)()
	var out []*domain.ClassificationRecord
	for _, rec := range r.s.classifications {
		if rec.UserID != userID || rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (r *ClassificationRepo) CountPhishingSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, rec := range r.s.classifications {
		if rec.UserID == userID && rec.IsPhishing() && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Feedback
// =============================================================================

type FeedbackRepo struct{ s *Store }

func (r *FeedbackRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackEvent, error) {
	defer r.s.lock(ctx)()
	ev, ok := r.s.feedback[id]
	if !ok {
		return nil, fmt.Errorf("feedback %s: %w", id, domain.ErrNotFound)
	}
	return &ev, nil
}

func (r *FeedbackRepo) SaveAccepted(ctx context.Context, ev *domain.FeedbackEvent) error {
	defer r.s.lock(ctx)()
	if err := r.checkOverwrite(ev); err != nil {
		return err
	}
	stored := *ev
	stored.Status = domain.FeedbackStatusAccepted
	r.s.feedback[ev.ID] = stored
	return nil
}

func (r *FeedbackRepo) SaveRejected(ctx context.Context, ev *domain.FeedbackEvent) error {
	defer r.s.lock(ctx)()
	if err := r.checkOverwrite(ev); err != nil {
		return err
	}
	stored := *ev
	stored.Status = domain.FeedbackStatusRejected
	r.s.feedback[ev.ID] = stored
	return nil
}

// checkOverwrite allows a new id or a rejected row of the same user.
func (r *FeedbackRepo) checkOverwrite(ev *domain.FeedbackEvent) error {
	existing, ok := r.s.feedback[ev.ID]
	if !ok {
		return nil
	}
	if existing.UserID != ev.UserID {
		return fmt.Errorf("feedback %s: owned by another user: %w", ev.ID, domain.ErrConflict)
	}
	if existing.IsAccepted() {
		return fmt.Errorf("feedback %s: %w", ev.ID, domain.ErrDuplicate)
	}
	return nil
}

func (r *FeedbackRepo) RecentAccepted(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.FeedbackEvent, error) {
	defer r.s.lock(ctx)()
	var out []*domain.FeedbackEvent
	for _, ev := range r.s.feedback {
		if ev.UserID == userID && ev.IsAccepted() {
			ev := ev
			out = append(out, &ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FeedbackRepo) StatsByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) (domain.FeedbackStats, error) {
	defer r.s.lock(ctx)()
	var stats domain.FeedbackStats
	for _, ev := range r.s.feedback {
		if ev.UserID != userID || ev.CreatedAt.Before(from) || ev.CreatedAt.After(to) {
			continue
		}
		if ev.IsAccepted() {
			stats.Accepted++
			if ev.UserVerdict == domain.UserVerdictIncorrect {
				stats.Incorrect++
			}
		} else {
			stats.Rejected++
		}
	}
	return stats, nil
}

// =============================================================================
// Reputation
// =============================================================================

type ReputationRepo struct{ s *Store }

func (r *ReputationRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.UserReputation, error) {
	defer r.s.lock(ctx)()
	rep, ok := r.s.reputations[userID]
	if !ok {
		return nil, nil
	}
	return &rep, nil
}

func (r *ReputationRepo) RecordOutcome(ctx context.Context, userID uuid.UUID, verdict domain.UserVerdict, now time.Time) (*domain.UserReputation, error) {
	defer r.s.lock(ctx)()
	rep, ok := r.s.reputations[userID]
	if !ok {
		rep = *domain.NewUserReputation(userID)
	}
	if err := rep.Check(); err != nil {
		return nil, err
	}
	rep.Apply(verdict, now)
	r.s.reputations[userID] = rep
	return &rep, nil
}

// =============================================================================
// Pattern weights
// =============================================================================

type PatternRepo struct{ s *Store }

func (r *PatternRepo) GetMany(ctx context.Context, keys []domain.PatternKey) ([]*domain.PatternWeight, error) {
	defer r.s.lock(ctx)()
	out := make([]*domain.PatternWeight, 0, len(keys))
	for _, k := range keys {
		if w, ok := r.s.patterns[k]; ok {
			out = append(out, &w)
		}
	}
	return out, nil
}

func (r *PatternRepo) Apply(ctx context.Context, update domain.PatternUpdate, bound float64, now time.Time) (*domain.PatternWeight, error) {
	defer r.s.lock(ctx)()
	w, ok := r.s.patterns[update.Key]
	if !ok {
		created := domain.NewPatternWeight(update.Key, update.Delta, bound, now)
		r.s.patterns[update.Key] = *created
		return created, nil
	}
	if err := w.Check(bound); err != nil {
		return nil, err
	}
	w.Apply(update.Delta, bound, now)
	r.s.patterns[update.Key] = w
	return &w, nil
}

func (r *PatternRepo) Top(ctx context.Context, patternType domain.PatternType, limit int) ([]*domain.PatternWeight, error) {
	defer r.s.lock(ctx)()
	var out []*domain.PatternWeight
	for _, w := range r.s.patterns {
		if patternType != "" && w.PatternType != patternType {
			continue
		}
		w := w
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].ConfidenceBoost), math.Abs(out[j].ConfidenceBoost)
		if ai != aj {
			return ai > aj
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Rate limit windows
// =============================================================================

type RateLimitRepo struct{ s *Store }

// Hit keeps every window; only the newest one per key can be active.
func (r *RateLimitRepo) Hit(ctx context.Context, userID uuid.UUID, endpoint string, limit int, window time.Duration, now time.Time) (*domain.RateLimitHit, error) {
	r.s.rlMu.Lock()
	defer r.s.rlMu.Unlock()

	key := windowKey{user: userID, endpoint: endpoint}
	history := r.s.windows[key]
	if n := len(history); n > 0 && history[n-1].Active(now) {
		current := &history[n-1]
		if current.RequestCount >= limit {
			return &domain.RateLimitHit{Allowed: false, Window: *current}, nil
		}
		current.RequestCount++
		return &domain.RateLimitHit{Allowed: true, Window: *current}, nil
	}

	fresh := domain.RateLimitWindow{
		UserID:       userID,
		Endpoint:     endpoint,
		WindowStart:  now,
		WindowEnd:    now.Add(window),
		RequestCount: 1,
	}
	r.s.windows[key] = append(history, fresh)
	return &domain.RateLimitHit{Allowed: true, Window: fresh}, nil
}

func (r *RateLimitRepo) Current(ctx context.Context, userID uuid.UUID, endpoint string, now time.Time) (*domain.RateLimitWindow, error) {
	r.s.rlMu.Lock()
	defer r.s.rlMu.Unlock()

	history := r.s.windows[windowKey{user: userID, endpoint: endpoint}]
	if n := len(history); n > 0 && history[n-1].Active(now) {
		w := history[n-1]
		return &w, nil
	}
	return nil, nil
}

// History returns every window recorded for the key, oldest first.
func (r *RateLimitRepo) History(userID uuid.UUID, endpoint string) []domain.RateLimitWindow {
	r.s.rlMu.Lock()
	defer r.s.rlMu.Unlock()
	return append([]domain.RateLimitWindow(nil), r.s.windows[windowKey{user: userID, endpoint: endpoint}]...)
}

// =============================================================================
// Alerts
// =============================================================================

type AlertRepo struct{ s *Store }

func (r *AlertRepo) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.AlertSettings, error) {
	defer r.s.lock(ctx)()
	settings, ok := r.s.alertSettings[userID]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}

func (r *AlertRepo) SaveSettings(ctx context.Context, settings *domain.AlertSettings) error {
	defer r.s.lock(ctx)()
	r.s.alertSettings[settings.UserID] = *settings
	return nil
}

func (r *AlertRepo) SaveEvent(ctx context.Context, ev *domain.AlertEvent) error {
	defer r.s.lock(ctx)()
	r.s.alertEvents = append(r.s.alertEvents, *ev)
	return nil
}

func (r *AlertRepo) ListEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.AlertEvent, error) {
	defer r.s.lock(ctx)()
	var out []*domain.AlertEvent
	for i := len(r.s.alertEvents) - 1; i >= 0; i-- {
		ev := r.s.alertEvents[i]
		if ev.UserID != userID {
			continue
		}
		out = append(out, &ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type AlertStateRepo struct{ s *Store }

func (r *AlertStateRepo) MarkAbove(ctx context.Context, userID uuid.UUID) (bool, error) {
	defer r.s.lock(ctx)()
	if r.s.alertAbove[userID] {
		return false, nil
	}
	r.s.alertAbove[userID] = true
	return true, nil
}

func (r *AlertStateRepo) MarkBelow(ctx context.Context, userID uuid.UUID) error {
	defer r.s.lock(ctx)()
	delete(r.s.alertAbove, userID)
	return nil
}

func (r *AlertStateRepo) ClaimCooldown(ctx context.Context, userID uuid.UUID, cooldown time.Duration, now time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	if last, ok := r.s.alertLastSent[userID]; ok && now.Sub(time.Unix(0, last)) < cooldown {
		return false, nil
	}
	r.s.alertLastSent[userID] = now.UnixNano()
	return true, nil
}

func (r *AlertStateRepo) ReleaseCooldown(ctx context.Context, userID uuid.UUID, claimedAt time.Time) error {
	defer r.s.lock(ctx)()
	if last, ok := r.s.alertLastSent[userID]; ok && last == claimedAt.UnixNano() {
		delete(r.s.alertLastSent, userID)
	}
	return nil
}
