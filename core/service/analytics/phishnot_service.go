package analytics

import (
	"context"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Service serves read-only rollups. It never writes to the stores.
type Service struct {
	classifications out.ClassificationRepository
	feedback        out.FeedbackRepository
	cache           out.Cache
	cacheTTL        time.Duration
	now             func() time.Time
}

// NewService creates the analytics service. cache may be nil.
func NewService(classifications out.ClassificationRepository, feedback out.FeedbackRepository, cache out.Cache, cacheTTL time.Duration) *Service {
	return &Service{
		classifications: classifications,
		feedback:        feedback,
		cache:           cache,
		cacheTTL:        cacheTTL,
		now:             time.Now,
	}
}

func cacheKey(userID uuid.UUID, period domain.Period) string {
	return fmt.Sprintf("analytics:%s:%s", userID, period)
}

// Get returns the rollup for the period ending now.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, period domain.Period) (*domain.Analytics, error) {
	if _, ok := domain.ParsePeriod(string(period)); !ok {
		return nil, fmt.Errorf("%w: period %q", domain.ErrInvalidInput, period)
	}
	if period == "" {
		period = domain.DefaultPeriod
	}

	key := cacheKey(userID, period)
	if s.cache != nil {
		var cached domain.Analytics
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			logger.WithContext(ctx).WithError(err).Warn("analytics cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	end := s.now()
	start := end.Add(-period.Duration())
	// the daily breakdown always looks back seven days
	from := start
	if week := end.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(breakdownDays - 1)); week.Before(from) {
		from = week
	}

	// 1. Load records and feedback stats concurrently
	var (
		records []*domain.ClassificationRecord
		stats   domain.FeedbackStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.classifications.ListByUser(gctx, userID, from, end)
		if err != nil {
			return fmt.Errorf("failed to list classifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		stats, err = s.feedback.StatsByUser(gctx, userID, start, end)
		if err != nil {
			return fmt.Errorf("failed to load feedback stats: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 2. Aggregate
	result := Aggregate(records, start, end)
	result.UserID = userID.String()
	result.Feedback = stats

	// 3. Cache
	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, key, result, s.cacheTTL); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("analytics cache write failed")
		}
	}
	return result, nil
}
