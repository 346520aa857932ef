package domain

import (
	"fmt"
	"math"
	"time"
)

// PatternType names the family a pattern was extracted from.
type PatternType string

const (
	PatternSenderDomain     PatternType = "sender_domain"
	PatternSubjectKeyword   PatternType = "subject_keyword"
	PatternSubjectPattern   PatternType = "subject_pattern"
	PatternContentIndicator PatternType = "content_indicator"
)

// PatternTypes lists every known type in extraction order.
var PatternTypes = []PatternType{
	PatternSenderDomain,
	PatternSubjectKeyword,
	PatternSubjectPattern,
	PatternContentIndicator,
}

func (t PatternType) IsValid() bool {
	for _, known := range PatternTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MaxConfidenceBoost bounds |PatternWeight.ConfidenceBoost|.
const MaxConfidenceBoost = 0.5

// PatternKey identifies a PatternWeight row.
type PatternKey struct {
	Type  PatternType `json:"type"`
	Value string      `json:"value"`
}

func (k PatternKey) String() string {
	return string(k.Type) + ":" + k.Value
}

// PatternCandidate is a signal extracted from a classification.
type PatternCandidate = PatternKey

// PatternWeight accumulates validated feedback for one pattern.
// A positive boost means the pattern under-predicts phishing.
type PatternWeight struct {
	PatternType     PatternType `json:"pattern_type"`
	PatternValue    string      `json:"pattern_value"`
	FeedbackCount   int         `json:"feedback_count"`
	ConfidenceBoost float64     `json:"confidence_boost"` // -0.5 - 0.5
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (w *PatternWeight) Key() PatternKey {
	return PatternKey{Type: w.PatternType, Value: w.PatternValue}
}

// ClampBoost bounds v to [-bound, bound].
func ClampBoost(v, bound float64) float64 {
	return math.Max(-bound, math.Min(bound, v))
}

// NextBoost is the running weighted average used for every update:
// clamp(((old*count)+delta)/(count+1)).
func NextBoost(oldBoost float64, oldCount int, delta, bound float64) float64 {
	return ClampBoost((oldBoost*float64(oldCount)+delta)/float64(oldCount+1), bound)
}

// Apply folds delta into the weight in place.
func (w *PatternWeight) Apply(delta, bound float64, now time.Time) {
	w.ConfidenceBoost = NextBoost(w.ConfidenceBoost, w.FeedbackCount, delta, bound)
	w.FeedbackCount++
	w.UpdatedAt = now
}

// NewPatternWeight creates the first row for key.
func NewPatternWeight(key PatternKey, delta, bound float64, now time.Time) *PatternWeight {
	return &PatternWeight{
		PatternType:     key.Type,
		PatternValue:    key.Value,
		FeedbackCount:   1,
		ConfidenceBoost: ClampBoost(delta, bound),
		UpdatedAt:       now,
	}
}

// Check verifies the row against its invariants.
func (w *PatternWeight) Check(bound float64) error {
	if w.FeedbackCount < 1 {
		return fmt.Errorf("%w: pattern %s has feedback_count %d",
			ErrInvariantViolation, w.Key(), w.FeedbackCount)
	}
	if math.IsNaN(w.ConfidenceBoost) || w.ConfidenceBoost < -bound || w.ConfidenceBoost > bound {
		return fmt.Errorf("%w: pattern %s has confidence_boost %.6f outside [-%.2f, %.2f]",
			ErrInvariantViolation, w.Key(), w.ConfidenceBoost, bound, bound)
	}
	return nil
}

// PatternUpdate is one delta to fold into a pattern row.
type PatternUpdate struct {
	Key   PatternKey
	Delta float64
}

// Adjustment is the pattern-weight consult applied to a classifier score.
type Adjustment struct {
	OriginalVerdict     Verdict  `json:"original_verdict"`
	OriginalConfidence  float64  `json:"original_confidence"`
	PhishingProbability float64  `json:"phishing_probability"`
	AppliedBoost        float64  `json:"applied_boost"`
	AdjustedVerdict     Verdict  `json:"adjusted_verdict"`
	AdjustedConfidence  float64  `json:"adjusted_confidence"`
	Patterns            []string `json:"patterns,omitempty"`
}
