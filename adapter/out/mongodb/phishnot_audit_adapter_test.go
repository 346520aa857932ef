package mongodb

import (
	"testing"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAuditDocumentConversion(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	entry := &domain.FeedbackAuditEntry{
		FeedbackID:       uuid.New(),
		UserID:           uuid.New(),
		ClassificationID: uuid.New(),
		UserVerdict:      domain.UserVerdictIncorrect,
		Outcome:          domain.OutcomeRejected,
		ValidationScore:  0.3,
		RecordedAt:       time.Date(2026, 1, 2, 9, 0, 0, 0, seoul),
	}

	doc := toAuditDocument(entry)
	assert.Equal(t, time.UTC, doc.RecordedAt.Location())
	assert.Equal(t, "rejected", doc.Outcome)

	back := doc.toDomain()
	assert.Equal(t, entry.FeedbackID, back.FeedbackID)
	assert.True(t, entry.RecordedAt.Equal(back.RecordedAt))
	assert.Equal(t, entry.Outcome, back.Outcome)
}

func TestAuditDocumentMalformedIDs(t *testing.T) {
	doc := auditDocument{FeedbackID: "nope", UserID: "", ClassificationID: "x"}
	got := doc.toDomain()
	assert.Equal(t, uuid.Nil, got.FeedbackID)
	assert.Equal(t, uuid.Nil, got.UserID)
}
