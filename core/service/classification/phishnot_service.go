// Package classification records classifier runs and reports the
// pattern-adjusted score for each one.
package classification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/in"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"

	"github.com/google/uuid"
)

// MaxEmailBytes bounds the text sent to the classifier.
const MaxEmailBytes = 64 * 1024

// Adjuster consults learned pattern weights.
type Adjuster interface {
	Adjust(ctx context.Context, rec *domain.ClassificationRecord) (*domain.Adjustment, error)
}

// Alerter evaluates the alert condition after a record is stored.
type Alerter interface {
	Evaluate(ctx context.Context, rec *domain.ClassificationRecord) (*domain.AlertEvent, error)
}

// Service is the classification intake.
type Service struct {
	classifier out.Classifier
	repo       out.ClassificationRepository
	adjuster   Adjuster
	alerter    Alerter
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates the intake. adjuster and alerter may be nil.
func NewService(classifier out.Classifier, repo out.ClassificationRepository, adjuster Adjuster, alerter Alerter, m *metrics.Metrics) *Service {
	return &Service{
		classifier: classifier,
		repo:       repo,
		adjuster:   adjuster,
		alerter:    alerter,
		metrics:    m,
		now:        time.Now,
	}
}

// Classify scores the email, stores the immutable record and returns it
// with the adjusted score. Alert and adjustment failures are logged only.
func (s *Service) Classify(ctx context.Context, userID uuid.UUID, email *domain.EmailSubmission) (*in.ClassificationView, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	if email == nil {
		return nil, fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	text := email.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: email text is empty", domain.ErrInvalidInput)
	}
	if len(text) > MaxEmailBytes {
		return nil, fmt.Errorf("%w: email exceeds %d bytes", domain.ErrInvalidInput, MaxEmailBytes)
	}

	// 1. Classify
	result, err := s.classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classifier failed: %w", err)
	}
	if !result.Verdict.IsValid() || math.IsNaN(result.Confidence) || result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("classifier returned verdict %q confidence %v: %w", result.Verdict, result.Confidence, domain.ErrInvalidInput)
	}

	// 2. Record
	rec := &domain.ClassificationRecord{
		ID:           uuid.New(),
		UserID:       userID,
		SenderDomain: domain.SenderDomain(email.Sender),
		Subject:      strings.TrimSpace(email.Subject),
		BodyExcerpt:  domain.Excerpt(email.Body),
		Verdict:      result.Verdict,
		Confidence:   result.Confidence,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store classification: %w", err)
	}
	s.metrics.Classification(string(rec.Verdict))

	view := &in.ClassificationView{Record: rec}
	log := logger.WithContext(ctx).WithField("classification_id", rec.ID.String())

	// 3. Alert
	if s.alerter != nil {
		ev, err := s.alerter.Evaluate(ctx, rec)
		if err != nil {
			log.WithError(err).Warn("alert evaluation failed")
		}
		view.Alert = ev
	}

	// 4. Adjust
	view.Adjustment = s.adjust(ctx, rec, log)

	log.WithFields(map[string]any{
		"verdict":    string(rec.Verdict),
		"confidence": rec.Confidence,
	}).Debug("classification recorded")
	return view, nil
}

// Get returns one of the user's records. Records owned by someone else are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*in.ClassificationView, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("classification %s: %w", id, domain.ErrNotFound)
	}
	view := &in.ClassificationView{Record: rec}
	view.Adjustment = s.adjust(ctx, rec, logger.WithContext(ctx).WithField("classification_id", id.String()))
	return view, nil
}

func (s *Service) adjust(ctx context.Context, rec *domain.ClassificationRecord, log *logger.Logger) *domain.Adjustment {
	if s.adjuster == nil {
		return nil
	}
	adj, err := s.adjuster.Adjust(ctx, rec)
	if err != nil {
		log.WithError(err).Warn("pattern adjustment failed")
		return nil
	}
	return adj
}
