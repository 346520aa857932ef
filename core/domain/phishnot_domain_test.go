package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		sender string
		want   string
	}{
		{"alerts@Evil-Bank.com", "evil-bank.com"},
		{"Evil Bank <Alerts@EVIL-BANK.com>", "evil-bank.com"},
		{"  noreply@mail.example.org  ", "mail.example.org"},
		{"no-at-sign", ""},
		{"trailing@", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderDomain(tt.sender))
		})
	}
}

func TestExcerptCountsRunes(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, Excerpt(short))

	long := strings.Repeat("é", MaxBodyExcerptRunes+10)
	got := Excerpt(long)
	assert.Equal(t, MaxBodyExcerptRunes, len([]rune(got)))
}

func TestReputationScore(t *testing.T) {
	assert.Equal(t, 0.5, ReputationScore(0, 0))
	assert.Equal(t, 0.8, ReputationScore(8, 2))
	assert.Equal(t, 0.0, ReputationScore(0, 3))
	assert.Equal(t, 1.0, ReputationScore(4, 0))
}

func TestUserReputationApply(t *testing.T) {
	rep := NewUserReputation(uuid.New())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rep.Apply(UserVerdictCorrect, now)
	rep.Apply(UserVerdictIncorrect, now)
	rep.Apply(UserVerdictCorrect, now)

	assert.Equal(t, 2, rep.CorrectCount)
	assert.Equal(t, 1, rep.IncorrectCount)
	assert.InDelta(t, 2.0/3.0, rep.ReputationScore, 1e-12)
	assert.Equal(t, now, rep.UpdatedAt)
	require.NoError(t, rep.Check())
}

func TestUserReputationCheck(t *testing.T) {
	rep := &UserReputation{CorrectCount: 3, IncorrectCount: 1, ReputationScore: 0.5}
	err := rep.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	rep = &UserReputation{CorrectCount: -1, ReputationScore: 0.5}
	assert.ErrorIs(t, rep.Check(), ErrInvariantViolation)
}

func TestNextBoostWeightedAverage(t *testing.T) {
	// evil-bank.com with count 3 and boost 0.2 receives +0.05.
	got := NextBoost(0.2, 3, 0.05, MaxConfidenceBoost)
	assert.InDelta(t, 0.1625, got, 1e-12)
}

func TestNextBoostClamps(t *testing.T) {
	assert.Equal(t, 0.5, NextBoost(0.5, 0, 0.9, MaxConfidenceBoost))
	assert.Equal(t, -0.5, NextBoost(-0.5, 1, -2, MaxConfidenceBoost))
}

func TestPatternWeightApplyAndCheck(t *testing.T) {
	now := time.Now()
	key := PatternKey{Type: PatternSenderDomain, Value: "evil-bank.com"}

	w := NewPatternWeight(key, 0.05, MaxConfidenceBoost, now)
	assert.Equal(t, 1, w.FeedbackCount)
	assert.Equal(t, 0.05, w.ConfidenceBoost)

	w.Apply(-0.05, MaxConfidenceBoost, now)
	assert.Equal(t, 2, w.FeedbackCount)
	assert.InDelta(t, 0.0, w.ConfidenceBoost, 1e-12)
	require.NoError(t, w.Check(MaxConfidenceBoost))

	corrupt := &PatternWeight{PatternType: key.Type, PatternValue: key.Value, FeedbackCount: 2, ConfidenceBoost: 0.7}
	assert.ErrorIs(t, corrupt.Check(MaxConfidenceBoost), ErrInvariantViolation)

	empty := &PatternWeight{PatternType: key.Type, PatternValue: key.Value}
	assert.ErrorIs(t, empty.Check(MaxConfidenceBoost), ErrInvariantViolation)
}

func TestParsePeriod(t *testing.T) {
	p, ok := ParsePeriod("")
	assert.True(t, ok)
	assert.Equal(t, Period30d, p)

	p, ok = ParsePeriod("7d")
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, p.Duration())

	_, ok = ParsePeriod("1y")
	assert.False(t, ok)
}

func TestRateLimitWindowActive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := RateLimitWindow{WindowStart: start, WindowEnd: start.Add(time.Hour)}

	assert.True(t, w.Active(start))
	assert.True(t, w.Active(start.Add(59*time.Minute)))
	assert.False(t, w.Active(start.Add(time.Hour)))
	assert.False(t, w.Active(start.Add(-time.Second)))
}
