package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserVerdict is the user's assertion about a classifier verdict.
type UserVerdict string

const (
	UserVerdictCorrect   UserVerdict = "correct"
	UserVerdictIncorrect UserVerdict = "incorrect"
)

func (v UserVerdict) IsValid() bool {
	return v == UserVerdictCorrect || v == UserVerdictIncorrect
}

// FeedbackStatus is the terminal state of a submission.
type FeedbackStatus string

const (
	FeedbackStatusAccepted FeedbackStatus = "accepted"
	FeedbackStatusRejected FeedbackStatus = "rejected"
)

// FeedbackEvent is a user's correction of one classification.
// Accepted events are immutable; rejected ones are kept only for audit and
// may be re-evaluated if the same id is submitted again.
type FeedbackEvent struct {
	ID               uuid.UUID      `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	ClassificationID uuid.UUID      `json:"classification_id"`
	UserVerdict      UserVerdict    `json:"user_verdict"`
	ReasonText       *string        `json:"reason_text,omitempty"`
	Status           FeedbackStatus `json:"status"`
	ValidationScore  float64        `json:"validation_score"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IsAccepted reports whether the event already drove pattern and reputation updates.
func (e *FeedbackEvent) IsAccepted() bool {
	return e.Status == FeedbackStatusAccepted
}

// FeedbackSubmission is an incoming correction before validation.
type FeedbackSubmission struct {
	ID               uuid.UUID   `json:"id"`
	UserID           uuid.UUID   `json:"user_id"`
	ClassificationID uuid.UUID   `json:"classification_id"`
	UserVerdict      UserVerdict `json:"user_verdict"`
	ReasonText       *string     `json:"reason_text,omitempty"`
}

// SubmissionOutcome names the terminal state reached by a submission.
type SubmissionOutcome string

const (
	OutcomeAccepted    SubmissionOutcome = "accepted"
	OutcomeRejected    SubmissionOutcome = "rejected"
	OutcomeRateLimited SubmissionOutcome = "rate_limited"
	OutcomeReplayed    SubmissionOutcome = "replayed"
)

// Validation is the Feedback Validator's verdict on a submission.
type Validation struct {
	Accepted         bool    `json:"accepted"`
	ValidationScore  float64 `json:"validation_score"`
	ReputationScore  float64 `json:"reputation_score"`
	ConsistencyScore float64 `json:"consistency_score"`
	HistorySize      int     `json:"history_size"`
}

// SubmissionResult is returned to the caller for every non-error submission.
// Rate limiting and rejection are results, not errors.
type SubmissionResult struct {
	FeedbackID      uuid.UUID          `json:"feedback_id"`
	Outcome         SubmissionOutcome  `json:"outcome"`
	Accepted        bool               `json:"accepted"`
	ValidationScore float64            `json:"validation_score"`
	Replayed        bool               `json:"replayed"`
	RateLimit       *RateLimitDecision `json:"rate_limit,omitempty"`
	Reputation      *UserReputation    `json:"reputation,omitempty"`
	Patterns        []*PatternWeight   `json:"patterns,omitempty"`
}

// FeedbackAcceptedEvent is published after an acceptance commits.
type FeedbackAcceptedEvent struct {
	FeedbackID      uuid.UUID       `json:"feedback_id"`
	UserID          uuid.UUID       `json:"user_id"`
	SenderDomain    string          `json:"sender_domain"`
	OriginalVerdict Verdict         `json:"original_verdict"`
	ValidationScore float64         `json:"validation_score"`
	Patterns        []PatternWeight `json:"patterns"`
	AcceptedAt      time.Time       `json:"accepted_at"`
}

// FeedbackAuditEntry records a validation decision for observability.
type FeedbackAuditEntry struct {
	FeedbackID       uuid.UUID         `json:"feedback_id"`
	UserID           uuid.UUID         `json:"user_id"`
	ClassificationID uuid.UUID         `json:"classification_id"`
	UserVerdict      UserVerdict       `json:"user_verdict"`
	Outcome          SubmissionOutcome `json:"outcome"`
	ValidationScore  float64           `json:"validation_score"`
	ReputationScore  float64           `json:"reputation_score"`
	ConsistencyScore float64           `json:"consistency_score"`
	RecordedAt       time.Time         `json:"recorded_at"`
}
