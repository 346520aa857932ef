package feedback

import (
	"context"
	"testing"
	"time"

	"phishnot_server/adapter/out/memory"
	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultValidator = ValidatorConfig{
	ReputationWeight:      0.7,
	ConsistencyWeight:     0.3,
	AcceptanceThreshold:   0.4,
	HistoryWindow:         10,
	MinHistory:            4,
	SuspiciousRatio:       0.8,
	SuspiciousConsistency: 0.3,
	NeutralConsistency:    1.0,
}

func history(correct, incorrect int) []*domain.FeedbackEvent {
	events := make([]*domain.FeedbackEvent, 0, correct+incorrect)
	for i := 0; i < correct; i++ {
		events = append(events, &domain.FeedbackEvent{UserVerdict: domain.UserVerdictCorrect})
	}
	for i := 0; i < incorrect; i++ {
		events = append(events, &domain.FeedbackEvent{UserVerdict: domain.UserVerdictIncorrect})
	}
	return events
}

func TestScore(t *testing.T) {
	v := NewValidator(nil, nil, defaultValidator)

	tests := []struct {
		name        string
		reputation  float64
		history     []*domain.FeedbackEvent
		consistency float64
		score       float64
		accepted    bool
	}{
		{"new user", 0.5, nil, 1.0, 0.65, true},
		{"short history is neutral", 0.5, history(0, 3), 1.0, 0.65, true},
		{"suspicious history", 0.8, history(1, 9), 0.3, 0.65, true},
		{"ratio at the boundary is not suspicious", 0.8, history(2, 8), 1.0, 0.86, true},
		{"low reputation and suspicious", 0.1, history(0, 10), 0.3, 0.16, false},
		{"zero reputation clean history", 0.0, history(5, 0), 1.0, 0.3, false},
		{"divisor is the window size", 0.5, history(0, 5), 1.0, 0.65, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Score(tt.reputation, tt.history)
			assert.InDelta(t, tt.consistency, got.ConsistencyScore, 1e-9)
			assert.InDelta(t, tt.score, got.ValidationScore, 1e-9)
			assert.Equal(t, tt.accepted, got.Accepted)
			assert.Equal(t, len(tt.history), got.HistorySize)
		})
	}
}

func TestScoreThresholdIsStrict(t *testing.T) {
	cfg := defaultValidator
	cfg.AcceptanceThreshold = 0.65
	v := NewValidator(nil, nil, cfg)

	got := v.Score(0.5, nil)
	assert.InDelta(t, 0.65, got.ValidationScore, 1e-9)
	assert.False(t, got.Accepted)
}

func TestValidateLoadsReputationAndHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	user := uuid.New()

	store.PutReputation(domain.UserReputation{
		UserID:          user,
		CorrectCount:    8,
		IncorrectCount:  2,
		ReputationScore: 0.8,
		UpdatedAt:       time.Now(),
	})
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		verdict := domain.UserVerdictIncorrect
		if i == 0 {
			verdict = domain.UserVerdictCorrect
		}
		require.NoError(t, store.Feedback().SaveAccepted(ctx, &domain.FeedbackEvent{
			ID:               uuid.New(),
			UserID:           user,
			ClassificationID: uuid.New(),
			UserVerdict:      verdict,
			Status:           domain.FeedbackStatusAccepted,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}

	v := NewValidator(store.Reputations(), store.Feedback(), defaultValidator)
	got, err := v.Validate(ctx, user, &domain.FeedbackSubmission{UserVerdict: domain.UserVerdictIncorrect})
	require.NoError(t, err)

	assert.InDelta(t, 0.8, got.ReputationScore, 1e-9)
	assert.InDelta(t, 0.3, got.ConsistencyScore, 1e-9)
	assert.InDelta(t, 0.65, got.ValidationScore, 1e-9)
	assert.True(t, got.Accepted)
}

func TestValidateRejectsUnknownVerdict(t *testing.T) {
	store := memory.NewStore()
	v := NewValidator(store.Reputations(), store.Feedback(), defaultValidator)

	_, err := v.Validate(context.Background(), uuid.New(), &domain.FeedbackSubmission{UserVerdict: "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
