package persistence

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/infra/database"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PostgreSQL integration tests
// TEST_DATABASE_URL=postgres://... go test ./adapter/out/persistence/
// =============================================================================

const concurrentWriters = 20

// testDB connects to TEST_DATABASE_URL and applies the schema. Every test
// works on fresh uuids so runs against a shared database do not collide.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := database.DefaultPostgresConfig()
	cfg.MaxConns = concurrentWriters + 5
	cfg.MinConns = 1
	pg, err := database.NewPostgres(context.Background(), url, cfg)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	_, err = Migrate(pg.DB)
	require.NoError(t, err)
	return pg.DB
}

// parallel runs fn n times at once and waits for all of them.
func parallel(n int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
}

func TestPostgresPatternApplyConcurrent(t *testing.T) {
	db := testDB(t)
	adapter := NewPatternWeightAdapter(db)
	ctx := context.Background()
	key := domain.PatternKey{Type: domain.PatternSenderDomain, Value: uuid.NewString() + ".example"}

	errs := make([]error, concurrentWriters)
	parallel(concurrentWriters, func(i int) {
		// deltas far outside the bound in both directions
		delta := 0.9
		if i%2 == 1 {
			delta = -0.9
		}
		_, errs[i] = adapter.Apply(ctx, domain.PatternUpdate{Key: key, Delta: delta}, 0.5, time.Now())
	})
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	weights, err := adapter.GetMany(ctx, []domain.PatternKey{key})
	require.NoError(t, err)
	require.Len(t, weights, 1)
	assert.Equal(t, concurrentWriters, weights[0].FeedbackCount)
	assert.GreaterOrEqual(t, weights[0].ConfidenceBoost, -0.5)
	assert.LessOrEqual(t, weights[0].ConfidenceBoost, 0.5)
}

func TestPostgresPatternApplyRefusesCorruptRow(t *testing.T) {
	db := testDB(t)
	adapter := NewPatternWeightAdapter(db)
	ctx := context.Background()
	key := domain.PatternKey{Type: domain.PatternSubjectKeyword, Value: uuid.NewString()}

	_, err := adapter.Apply(ctx, domain.PatternUpdate{Key: key, Delta: 0.1}, 0.5, time.Now())
	require.NoError(t, err)

	// a tighter bound makes the stored boost out of range
	_, err = adapter.Apply(ctx, domain.PatternUpdate{Key: key, Delta: 0.1}, 0.05, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	weights, err := adapter.GetMany(ctx, []domain.PatternKey{key})
	require.NoError(t, err)
	require.Len(t, weights, 1)
	assert.Equal(t, 1, weights[0].FeedbackCount)
}

func TestPostgresReputationConcurrent(t *testing.T) {
	db := testDB(t)
	adapter := NewReputationAdapter(db)
	ctx := context.Background()
	user := uuid.New()

	errs := make([]error, concurrentWriters)
	parallel(concurrentWriters, func(i int) {
		verdict := domain.UserVerdictCorrect
		if i%4 == 0 {
			verdict = domain.UserVerdictIncorrect
		}
		_, errs[i] = adapter.RecordOutcome(ctx, user, verdict, time.Now())
	})
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	rep, err := adapter.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 15, rep.CorrectCount)
	assert.Equal(t, 5, rep.IncorrectCount)
	assert.InDelta(t, domain.ReputationScore(15, 5), rep.ReputationScore, 1e-9)
}

func TestPostgresRateLimitExactAdmission(t *testing.T) {
	db := testDB(t)
	adapter := NewRateLimitAdapter(db)
	ctx := context.Background()
	user := uuid.New()
	const limit = 7
	now := time.Now()

	allowed := make([]bool, concurrentWriters)
	errs := make([]error, concurrentWriters)
	parallel(concurrentWriters, func(i int) {
		hit, err := adapter.Hit(ctx, user, "feedback", limit, time.Hour, now)
		errs[i] = err
		if err == nil {
			allowed[i] = hit.Allowed
		}
	})

	admitted := 0
	for i := range allowed {
		require.NoError(t, errs[i], "caller %d", i)
		if allowed[i] {
			admitted++
		}
	}
	assert.Equal(t, limit, admitted)

	win, err := adapter.Current(ctx, user, "feedback", now)
	require.NoError(t, err)
	require.NotNil(t, win)
	assert.Equal(t, limit, win.RequestCount)
}

func TestPostgresFeedbackOverwriteRules(t *testing.T) {
	db := testDB(t)
	classifications := NewClassificationAdapter(db)
	feedback := NewFeedbackAdapter(db)
	ctx := context.Background()
	owner := uuid.New()

	newRecord := func(user uuid.UUID) *domain.ClassificationRecord {
		rec := &domain.ClassificationRecord{
			ID:           uuid.New(),
			UserID:       user,
			SenderDomain: "evil-bank.com",
			Verdict:      domain.VerdictPhishing,
			Confidence:   0.9,
			CreatedAt:    time.Now(),
		}
		require.NoError(t, classifications.Create(ctx, rec))
		return rec
	}
	first := newRecord(owner)
	second := newRecord(owner)

	ev := &domain.FeedbackEvent{
		ID:               uuid.New(),
		UserID:           owner,
		ClassificationID: first.ID,
		UserVerdict:      domain.UserVerdictIncorrect,
		ValidationScore:  0.3,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, feedback.SaveRejected(ctx, ev))

	// another user cannot take over the rejected id
	stranger := uuid.New()
	foreign := *ev
	foreign.UserID = stranger
	foreign.ClassificationID = newRecord(stranger).ID
	assert.ErrorIs(t, feedback.SaveAccepted(ctx, &foreign), domain.ErrConflict)

	// the owner may accept it against another classification
	moved := *ev
	moved.ClassificationID = second.ID
	moved.UserVerdict = domain.UserVerdictCorrect
	moved.ValidationScore = 0.9
	require.NoError(t, feedback.SaveAccepted(ctx, &moved))

	stored, err := feedback.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, stored.UserID)
	assert.Equal(t, second.ID, stored.ClassificationID)
	assert.Equal(t, domain.UserVerdictCorrect, stored.UserVerdict)
	assert.True(t, stored.IsAccepted())

	assert.ErrorIs(t, feedback.SaveAccepted(ctx, &moved), domain.ErrDuplicate)
	assert.ErrorIs(t, feedback.SaveRejected(ctx, &moved), domain.ErrDuplicate)
	assert.ErrorIs(t, feedback.SaveAccepted(ctx, &foreign), domain.ErrConflict)
}

func TestPostgresAlertCooldownRelease(t *testing.T) {
	db := testDB(t)
	alerts := NewAlertAdapter(db)
	ctx := context.Background()
	user := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	crossed, err := alerts.MarkAbove(ctx, user)
	require.NoError(t, err)
	require.True(t, crossed)

	ok, err := alerts.ClaimCooldown(ctx, user, time.Hour, now)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, alerts.ReleaseCooldown(ctx, user, now))
	require.NoError(t, alerts.MarkBelow(ctx, user))

	crossed, err = alerts.MarkAbove(ctx, user)
	require.NoError(t, err)
	assert.True(t, crossed)
	ok, err = alerts.ClaimCooldown(ctx, user, time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}
