package pattern

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"
)

// WeightConfig holds the learning constants.
type WeightConfig struct {
	DeltaScale    float64 // 0.1
	SkipThreshold float64 // 0.01
	BoostBound    float64 // 0.5
}

// WeightStore turns validated corrections into pattern weight updates.
type WeightStore struct {
	repo      out.PatternWeightRepository
	extractor *Extractor
	cfg       WeightConfig
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewWeightStore creates a weight store.
func NewWeightStore(repo out.PatternWeightRepository, extractor *Extractor, cfg WeightConfig, m *metrics.Metrics) *WeightStore {
	return &WeightStore{repo: repo, extractor: extractor, cfg: cfg, metrics: m, now: time.Now}
}

// Extractor exposes the extractor the store was built with.
func (s *WeightStore) Extractor() *Extractor {
	return s.extractor
}

// Delta computes the boost change for one correction. Zero means skip.
// A disputed phishing verdict pushes boosts down, a disputed safe verdict up.
func (s *WeightStore) Delta(feedback domain.UserVerdict, original domain.Verdict, validationScore float64) float64 {
	if feedback != domain.UserVerdictIncorrect {
		return 0
	}
	delta := s.cfg.DeltaScale * validationScore
	if original == domain.VerdictPhishing {
		delta = -delta
	}
	if math.Abs(delta) < s.cfg.SkipThreshold {
		return 0
	}
	return delta
}

// ApplyFeedback folds one accepted correction into every candidate's row.
// Each row update is a single atomic store operation. An invariant
// violation on any row aborts the remaining updates.
func (s *WeightStore) ApplyFeedback(ctx context.Context, candidates []domain.PatternCandidate, feedback domain.UserVerdict, original domain.Verdict, validationScore float64) ([]*domain.PatternWeight, error) {
	delta := s.Delta(feedback, original, validationScore)
	if delta == 0 || len(candidates) == 0 {
		return nil, nil
	}

	keys := append([]domain.PatternKey(nil), candidates...)
	SortKeys(keys)

	now := s.now()
	updated := make([]*domain.PatternWeight, 0, len(keys))
	for i, key := range keys {
		if i > 0 && keys[i-1] == key {
			continue
		}
		w, err := s.repo.Apply(ctx, domain.PatternUpdate{Key: key, Delta: delta}, s.cfg.BoostBound, now)
		if err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				s.metrics.InvariantViolation()
				logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"pattern_type":  string(key.Type),
					"pattern_value": key.Value,
					"delta":         delta,
				}).Error("refusing to update corrupted pattern weight")
			}
			return nil, fmt.Errorf("failed to apply pattern %s: %w", key, err)
		}
		s.metrics.PatternUpdated(string(key.Type))
		updated = append(updated, w)
	}
	return updated, nil
}

// Top lists the strongest learned weights.
func (s *WeightStore) Top(ctx context.Context, patternType domain.PatternType, limit int) ([]*domain.PatternWeight, error) {
	if patternType != "" && !patternType.IsValid() {
		return nil, fmt.Errorf("%w: pattern type %q", domain.ErrInvalidInput, patternType)
	}
	return s.repo.Top(ctx, patternType, limit)
}

// Adjust is the downstream consult: the record's extracted patterns shift
// the phishing probability by the sum of their boosts, clamped to [0, 1].
// Corrupted rows are skipped rather than applied.
func (s *WeightStore) Adjust(ctx context.Context, rec *domain.ClassificationRecord) (*domain.Adjustment, error) {
	pPhish := rec.Confidence
	if !rec.IsPhishing() {
		pPhish = 1 - rec.Confidence
	}
	adj := &domain.Adjustment{
		OriginalVerdict:     rec.Verdict,
		OriginalConfidence:  rec.Confidence,
		PhishingProbability: pPhish,
		AdjustedVerdict:     rec.Verdict,
		AdjustedConfidence:  rec.Confidence,
	}

	candidates := s.extractor.Extract(rec)
	if len(candidates) == 0 {
		return adj, nil
	}
	weights, err := s.repo.GetMany(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern weights: %w", err)
	}

	var boost float64
	for _, w := range weights {
		if w.Check(s.cfg.BoostBound) != nil {
			continue
		}
		boost += w.ConfidenceBoost
		adj.Patterns = append(adj.Patterns, w.Key().String())
	}
	if len(adj.Patterns) == 0 {
		return adj, nil
	}

	adjusted := math.Max(0, math.Min(1, pPhish+boost))
	adj.AppliedBoost = boost
	adj.PhishingProbability = adjusted
	if adjusted >= 0.5 {
		adj.AdjustedVerdict = domain.VerdictPhishing
		adj.AdjustedConfidence = adjusted
	} else {
		adj.AdjustedVerdict = domain.VerdictSafe
		adj.AdjustedConfidence = 1 - adjusted
	}
	return adj, nil
}
