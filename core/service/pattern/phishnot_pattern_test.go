package pattern

import (
	"context"
	"sync"
	"testing"
	"time"

	"phishnot_server/adapter/out/memory"
	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLexicon = Lexicon{
	SubjectKeywords:   []string{"urgent", "immediate", "action required", "suspended", "expires"},
	SubjectPatterns:   []string{"re:", "fwd:", "verify", "confirm", "click here"},
	ContentIndicators: []string{"click here", "verify account", "suspended", "expires today", "confirm identity", "update information", "login credentials"},
}

var defaultWeights = WeightConfig{DeltaScale: 0.1, SkipThreshold: 0.01, BoostBound: 0.5}

func record(verdict domain.Verdict, confidence float64) *domain.ClassificationRecord {
	return &domain.ClassificationRecord{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		SenderDomain: "Evil-Bank.com",
		Subject:      "URGENT: Verify your account",
		BodyExcerpt:  "Your account is suspended. Click here to verify account and update information.",
		Verdict:      verdict,
		Confidence:   confidence,
		CreatedAt:    time.Now(),
	}
}

func keys(cands []domain.PatternCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.String()
	}
	return out
}

func TestExtract(t *testing.T) {
	e := NewExtractor(testLexicon)

	got := keys(e.Extract(record(domain.VerdictSafe, 0.9)))

	assert.Equal(t, []string{
		"content_indicator:click here",
		"content_indicator:suspended",
		"content_indicator:update information",
		"content_indicator:verify account",
		"sender_domain:evil-bank.com",
		"subject_keyword:urgent",
		"subject_pattern:verify",
	}, got)
}

func TestExtractIsOrderIndependent(t *testing.T) {
	reversed := Lexicon{
		SubjectKeywords:   []string{"expires", "suspended", "action required", "immediate", "urgent"},
		SubjectPatterns:   []string{"click here", "confirm", "verify", "fwd:", "re:"},
		ContentIndicators: []string{"login credentials", "update information", "confirm identity", "expires today", "suspended", "verify account", "click here"},
	}
	rec := record(domain.VerdictPhishing, 0.7)

	assert.Equal(t, keys(NewExtractor(testLexicon).Extract(rec)), keys(NewExtractor(reversed).Extract(rec)))
}

func TestExtractWithoutSender(t *testing.T) {
	e := NewExtractor(testLexicon)
	rec := &domain.ClassificationRecord{Subject: "Re: lunch", BodyExcerpt: "see you"}

	assert.Equal(t, []string{"subject_pattern:re:"}, keys(e.Extract(rec)))
}

func TestDelta(t *testing.T) {
	s := NewWeightStore(nil, nil, defaultWeights, nil)

	tests := []struct {
		name     string
		feedback domain.UserVerdict
		original domain.Verdict
		score    float64
		want     float64
	}{
		{"correct is a no-op", domain.UserVerdictCorrect, domain.VerdictSafe, 0.9, 0},
		{"false negative pushes up", domain.UserVerdictIncorrect, domain.VerdictSafe, 0.5, 0.05},
		{"false positive pushes down", domain.UserVerdictIncorrect, domain.VerdictPhishing, 0.65, -0.065},
		{"near-zero skipped", domain.UserVerdictIncorrect, domain.VerdictSafe, 0.05, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Delta(tt.feedback, tt.original, tt.score), 1e-12)
		})
	}
}

func TestApplyFeedbackWeightedAverage(t *testing.T) {
	store := memory.NewStore()
	key := domain.PatternKey{Type: domain.PatternSenderDomain, Value: "evil-bank.com"}
	store.PutPattern(domain.PatternWeight{PatternType: key.Type, PatternValue: key.Value, FeedbackCount: 3, ConfidenceBoost: 0.2})
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)

	updated, err := s.ApplyFeedback(context.Background(), []domain.PatternCandidate{key}, domain.UserVerdictIncorrect, domain.VerdictSafe, 0.5)
	require.NoError(t, err)
	require.Len(t, updated, 1)

	assert.Equal(t, 4, updated[0].FeedbackCount)
	assert.InDelta(t, 0.1625, updated[0].ConfidenceBoost, 1e-12)
}

func TestApplyFeedbackCreatesRows(t *testing.T) {
	store := memory.NewStore()
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)
	cands := s.Extractor().Extract(record(domain.VerdictPhishing, 0.8))

	updated, err := s.ApplyFeedback(context.Background(), cands, domain.UserVerdictIncorrect, domain.VerdictPhishing, 0.65)
	require.NoError(t, err)
	require.Len(t, updated, len(cands))
	for _, w := range updated {
		assert.Equal(t, 1, w.FeedbackCount)
		assert.InDelta(t, -0.065, w.ConfidenceBoost, 1e-12)
	}
}

func TestApplyFeedbackNoOps(t *testing.T) {
	store := memory.NewStore()
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)
	key := domain.PatternKey{Type: domain.PatternSenderDomain, Value: "x.com"}

	updated, err := s.ApplyFeedback(context.Background(), []domain.PatternCandidate{key}, domain.UserVerdictCorrect, domain.VerdictSafe, 0.9)
	require.NoError(t, err)
	assert.Empty(t, updated)

	updated, err = s.ApplyFeedback(context.Background(), []domain.PatternCandidate{key}, domain.UserVerdictIncorrect, domain.VerdictSafe, 0.09)
	require.NoError(t, err)
	assert.Empty(t, updated)

	top, _ := store.Patterns().Top(context.Background(), "", 0)
	assert.Empty(t, top)
}

func TestApplyFeedbackStopsOnCorruptRow(t *testing.T) {
	store := memory.NewStore()
	bad := domain.PatternKey{Type: domain.PatternContentIndicator, Value: "click here"}
	store.PutPattern(domain.PatternWeight{PatternType: bad.Type, PatternValue: bad.Value, FeedbackCount: 0, ConfidenceBoost: 0})
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)

	_, err := s.ApplyFeedback(context.Background(), []domain.PatternCandidate{bad}, domain.UserVerdictIncorrect, domain.VerdictSafe, 0.8)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestApplyFeedbackStaysBoundedUnderConcurrency(t *testing.T) {
	store := memory.NewStore()
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)
	key := domain.PatternKey{Type: domain.PatternSenderDomain, Value: "evil-bank.com"}

	const n = 120
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			original := domain.VerdictSafe
			if i%2 == 0 {
				original = domain.VerdictPhishing
			}
			_, err := s.ApplyFeedback(context.Background(), []domain.PatternCandidate{key}, domain.UserVerdictIncorrect, original, 1.0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rows, err := store.Patterns().GetMany(context.Background(), []domain.PatternKey{key})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, n, rows[0].FeedbackCount)
	assert.GreaterOrEqual(t, rows[0].ConfidenceBoost, -0.5)
	assert.LessOrEqual(t, rows[0].ConfidenceBoost, 0.5)
}

func TestAdjust(t *testing.T) {
	store := memory.NewStore()
	store.PutPattern(domain.PatternWeight{PatternType: domain.PatternSenderDomain, PatternValue: "evil-bank.com", FeedbackCount: 4, ConfidenceBoost: 0.3})
	store.PutPattern(domain.PatternWeight{PatternType: domain.PatternSubjectKeyword, PatternValue: "urgent", FeedbackCount: 2, ConfidenceBoost: 0.1})
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)

	// classifier said safe with 0.8 confidence: phishing probability 0.2
	adj, err := s.Adjust(context.Background(), record(domain.VerdictSafe, 0.8))
	require.NoError(t, err)

	assert.InDelta(t, 0.4, adj.AppliedBoost, 1e-12)
	assert.InDelta(t, 0.6, adj.PhishingProbability, 1e-12)
	assert.Equal(t, domain.VerdictPhishing, adj.AdjustedVerdict)
	assert.InDelta(t, 0.6, adj.AdjustedConfidence, 1e-12)
	assert.Len(t, adj.Patterns, 2)
}

func TestAdjustClampsAndSkipsCorruptRows(t *testing.T) {
	store := memory.NewStore()
	store.PutPattern(domain.PatternWeight{PatternType: domain.PatternSenderDomain, PatternValue: "evil-bank.com", FeedbackCount: 4, ConfidenceBoost: 0.5})
	store.PutPattern(domain.PatternWeight{PatternType: domain.PatternSubjectKeyword, PatternValue: "urgent", FeedbackCount: 1, ConfidenceBoost: 0.4})
	store.PutPattern(domain.PatternWeight{PatternType: domain.PatternSubjectPattern, PatternValue: "verify", FeedbackCount: 1, ConfidenceBoost: 3})
	s := NewWeightStore(store.Patterns(), NewExtractor(testLexicon), defaultWeights, nil)

	adj, err := s.Adjust(context.Background(), record(domain.VerdictPhishing, 0.9))
	require.NoError(t, err)

	assert.Equal(t, 1.0, adj.PhishingProbability)
	assert.InDelta(t, 0.9, adj.AppliedBoost, 1e-12)
	assert.NotContains(t, adj.Patterns, "subject_pattern:verify")
}

func TestTopRejectsUnknownType(t *testing.T) {
	s := NewWeightStore(memory.NewStore().Patterns(), NewExtractor(testLexicon), defaultWeights, nil)

	_, err := s.Top(context.Background(), "bogus", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
