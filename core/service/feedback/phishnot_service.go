package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/core/service/pattern"
	"phishnot_server/core/service/ratelimit"
	"phishnot_server/core/service/reputation"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"

	"github.com/google/uuid"
)

// Limiter is the part of the rate limiter the submission flow needs.
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, endpoint string) *domain.RateLimitDecision
}

// Service runs the submission state machine:
// Received -> RateLimited | Validated -> Accepted | Rejected.
type Service struct {
	tx              out.Transactor
	classifications out.ClassificationRepository
	feedback        out.FeedbackRepository
	limiter         Limiter
	validator       *Validator
	reputation      *reputation.Tracker
	weights         *pattern.WeightStore
	audit           out.AuditSink
	auditReader     out.AuditReader
	publisher       out.EventPublisher
	metrics         *metrics.Metrics
	now             func() time.Time
}

// Deps groups the collaborators of Service. Audit, AuditReader, Publisher and Metrics are optional.
type Deps struct {
	Tx              out.Transactor
	Classifications out.ClassificationRepository
	Feedback        out.FeedbackRepository
	Limiter         Limiter
	Validator       *Validator
	Reputation      *reputation.Tracker
	Weights         *pattern.WeightStore
	Audit           out.AuditSink
	AuditReader     out.AuditReader
	Publisher       out.EventPublisher
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// NewService creates the orchestration service.
func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:              d.Tx,
		classifications: d.Classifications,
		feedback:        d.Feedback,
		limiter:         d.Limiter,
		validator:       d.Validator,
		reputation:      d.Reputation,
		weights:         d.Weights,
		audit:           d.Audit,
		auditReader:     d.AuditReader,
		publisher:       d.Publisher,
		metrics:         d.Metrics,
		now:             now,
	}
}

// Submit evaluates one correction. Rate limiting, rejection and replay are
// results; errors are reserved for bad input, missing classifications,
// store faults and invariant violations. Acceptance commits the event,
// reputation and pattern updates together or not at all.
func (s *Service) Submit(ctx context.Context, sub *domain.FeedbackSubmission) (*domain.SubmissionResult, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	} else {
		// an already accepted id is answered without spending quota
		if res, err := s.replay(ctx, sub); res != nil || err != nil {
			return res, err
		}
	}
	// Received -> RateLimited
	decision := s.limiter.Allow(ctx, sub.UserID, ratelimit.EndpointFeedback)
	if !decision.Allowed {
		if decision.Degraded {
			return nil, fmt.Errorf("%w: rate limiter unavailable", domain.ErrStoreUnavailable)
		}
		s.record(ctx, sub, domain.OutcomeRateLimited, nil)
		logger.WithContext(ctx).WithFields(map[string]any{
			"feedback_id":       sub.ID.String(),
			"classification_id": sub.ClassificationID.String(),
		}).Info("feedback rate limited until %s", decision.ResetAt.Format(time.RFC3339))
		return &domain.SubmissionResult{
			FeedbackID: sub.ID,
			Outcome:    domain.OutcomeRateLimited,
			RateLimit:  decision,
		}, nil
	}

	res, err := s.evaluate(ctx, sub)
	if res != nil {
		res.RateLimit = decision
	}
	return res, err
}

// evaluate runs Validated -> Accepted | Rejected, or returns the stored
// result for a replayed id.
func (s *Service) evaluate(ctx context.Context, sub *domain.FeedbackSubmission) (*domain.SubmissionResult, error) {
	if res, err := s.replay(ctx, sub); res != nil || err != nil {
		return res, err
	}

	rec, err := s.classifications.GetByID(ctx, sub.ClassificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load classification: %w", err)
	}
	if rec.UserID != sub.UserID {
		return nil, fmt.Errorf("classification %s: %w", sub.ClassificationID, domain.ErrNotFound)
	}

	// Validated
	validation, err := s.validator.Validate(ctx, sub.UserID, sub)
	if err != nil {
		return nil, err
	}
	s.metrics.ValidationScore(validation.ValidationScore)

	event := &domain.FeedbackEvent{
		ID:               sub.ID,
		UserID:           sub.UserID,
		ClassificationID: sub.ClassificationID,
		UserVerdict:      sub.UserVerdict,
		ReasonText:       sub.ReasonText,
		ValidationScore:  validation.ValidationScore,
		CreatedAt:        s.now(),
	}

	if !validation.Accepted {
		return s.reject(ctx, sub, event, validation)
	}
	return s.accept(ctx, sub, rec, event, validation)
}

// replay returns the stored result when sub.ID was already accepted.
func (s *Service) replay(ctx context.Context, sub *domain.FeedbackSubmission) (*domain.SubmissionResult, error) {
	existing, err := s.feedback.GetByID(ctx, sub.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	if existing.UserID != sub.UserID {
		return nil, fmt.Errorf("feedback %s belongs to another user: %w", sub.ID, domain.ErrConflict)
	}
	if !existing.IsAccepted() {
		// a rejected id may be re-evaluated
		return nil, nil
	}
	if existing.ClassificationID != sub.ClassificationID || existing.UserVerdict != sub.UserVerdict {
		return nil, fmt.Errorf("feedback %s was accepted with different content: %w", sub.ID, domain.ErrConflict)
	}

	s.record(ctx, sub, domain.OutcomeReplayed, &domain.Validation{Accepted: true, ValidationScore: existing.ValidationScore})
	return &domain.SubmissionResult{
		FeedbackID:      existing.ID,
		Outcome:         domain.OutcomeReplayed,
		Accepted:        true,
		ValidationScore: existing.ValidationScore,
		Replayed:        true,
	}, nil
}

func (s *Service) reject(ctx context.Context, sub *domain.FeedbackSubmission, event *domain.FeedbackEvent, validation *domain.Validation) (*domain.SubmissionResult, error) {
	event.Status = domain.FeedbackStatusRejected
	err := s.feedback.SaveRejected(ctx, event)
	if errors.Is(err, domain.ErrDuplicate) {
		// accepted by a concurrent delivery of the same id
		return s.replay(ctx, sub)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record rejected feedback: %w", err)
	}

	s.record(ctx, sub, domain.OutcomeRejected, validation)
	logger.WithContext(ctx).WithFields(map[string]any{
		"feedback_id":       sub.ID.String(),
		"validation_score":  validation.ValidationScore,
		"reputation_score":  validation.ReputationScore,
		"consistency_score": validation.ConsistencyScore,
	}).Info("feedback rejected")
	return &domain.SubmissionResult{
		FeedbackID:      sub.ID,
		Outcome:         domain.OutcomeRejected,
		Accepted:        false,
		ValidationScore: validation.ValidationScore,
	}, nil
}

func (s *Service) accept(ctx context.Context, sub *domain.FeedbackSubmission, rec *domain.ClassificationRecord, event *domain.FeedbackEvent, validation *domain.Validation) (*domain.SubmissionResult, error) {
	event.Status = domain.FeedbackStatusAccepted
	candidates := s.weights.Extractor().Extract(rec)

	var (
		rep      *domain.UserReputation
		patterns []*domain.PatternWeight
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.feedback.SaveAccepted(ctx, event); err != nil {
			return err
		}
		var err error
		if rep, err = s.reputation.RecordOutcome(ctx, sub.UserID, sub.UserVerdict); err != nil {
			return err
		}
		patterns, err = s.weights.ApplyFeedback(ctx, candidates, sub.UserVerdict, rec.Verdict, validation.ValidationScore)
		return err
	})
	if errors.Is(err, domain.ErrDuplicate) {
		return s.replay(ctx, sub)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply accepted feedback: %w", err)
	}

	s.record(ctx, sub, domain.OutcomeAccepted, validation)
	s.publish(ctx, rec, event, patterns)
	logger.WithContext(ctx).WithFields(map[string]any{
		"feedback_id":      sub.ID.String(),
		"validation_score": validation.ValidationScore,
		"patterns_updated": len(patterns),
	}).Info("feedback accepted")

	return &domain.SubmissionResult{
		FeedbackID:      sub.ID,
		Outcome:         domain.OutcomeAccepted,
		Accepted:        true,
		ValidationScore: validation.ValidationScore,
		Reputation:      rep,
		Patterns:        patterns,
	}, nil
}

// record counts and audits a decision. Audit failures are logged only.
func (s *Service) record(ctx context.Context, sub *domain.FeedbackSubmission, outcome domain.SubmissionOutcome, v *domain.Validation) {
	s.metrics.FeedbackDecision(string(outcome))
	if s.audit == nil {
		return
	}
	entry := &domain.FeedbackAuditEntry{
		FeedbackID:       sub.ID,
		UserID:           sub.UserID,
		ClassificationID: sub.ClassificationID,
		UserVerdict:      sub.UserVerdict,
		Outcome:          outcome,
		RecordedAt:       s.now(),
	}
	if v != nil {
		entry.ValidationScore = v.ValidationScore
		entry.ReputationScore = v.ReputationScore
		entry.ConsistencyScore = v.ConsistencyScore
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to write feedback audit entry")
	}
}

// publish runs after commit; the projection is eventually consistent.
func (s *Service) publish(ctx context.Context, rec *domain.ClassificationRecord, event *domain.FeedbackEvent, patterns []*domain.PatternWeight) {
	if s.publisher == nil {
		return
	}
	ev := &domain.FeedbackAcceptedEvent{
		FeedbackID:      event.ID,
		UserID:          event.UserID,
		SenderDomain:    rec.SenderDomain,
		OriginalVerdict: rec.Verdict,
		ValidationScore: event.ValidationScore,
		AcceptedAt:      event.CreatedAt,
	}
	for _, p := range patterns {
		ev.Patterns = append(ev.Patterns, *p)
	}
	if err := s.publisher.PublishFeedbackAccepted(ctx, ev); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to publish feedback accepted event")
	}
}

// Trail returns the audit trail of one of the user's feedback ids. Ids with
// no entries for this user are reported as not found.
func (s *Service) Trail(ctx context.Context, userID, feedbackID uuid.UUID) ([]*domain.FeedbackAuditEntry, error) {
	if s.auditReader == nil {
		return nil, fmt.Errorf("feedback %s audit trail: %w", feedbackID, domain.ErrNotFound)
	}
	entries, err := s.auditReader.ListByFeedback(ctx, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	own := entries[:0]
	for _, e := range entries {
		if e.UserID == userID {
			own = append(own, e)
		}
	}
	if len(own) == 0 {
		return nil, fmt.Errorf("feedback %s audit trail: %w", feedbackID, domain.ErrNotFound)
	}
	return own, nil
}

func validateSubmission(sub *domain.FeedbackSubmission) error {
	switch {
	case sub == nil:
		return fmt.Errorf("%w: empty submission", domain.ErrInvalidInput)
	case sub.UserID == uuid.Nil:
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	case sub.ClassificationID == uuid.Nil:
		return fmt.Errorf("%w: classification_id is required", domain.ErrInvalidInput)
	case !sub.UserVerdict.IsValid():
		return fmt.Errorf("%w: user_verdict must be correct or incorrect", domain.ErrInvalidInput)
	}
	return nil
}
