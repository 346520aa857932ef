package mongodb

import (
	"context"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Feedback Audit Adapter
// =============================================================================

const collectionFeedbackAudit = "feedback_audit"

// AuditAdapter implements out.AuditSink using MongoDB. Documents expire
// after the retention period through a TTL index.
type AuditAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewAuditAdapter creates a new audit adapter.
func NewAuditAdapter(db *mongo.Database, retention time.Duration) *AuditAdapter {
	return &AuditAdapter{
		collection: db.Collection(collectionFeedbackAudit),
		retention:  retention,
	}
}

// EnsureIndexes creates the lookup and TTL indexes.
func (a *AuditAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "recorded_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "feedback_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "recorded_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(a.retention.Seconds())),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

// auditDocument is the stored form of one decision.
type auditDocument struct {
	FeedbackID       string    `bson:"feedback_id"`
	UserID           string    `bson:"user_id"`
	ClassificationID string    `bson:"classification_id"`
	UserVerdict      string    `bson:"user_verdict"`
	Outcome          string    `bson:"outcome"`
	ValidationScore  float64   `bson:"validation_score"`
	ReputationScore  float64   `bson:"reputation_score"`
	ConsistencyScore float64   `bson:"consistency_score"`
	RecordedAt       time.Time `bson:"recorded_at"`
}

func toAuditDocument(e *domain.FeedbackAuditEntry) auditDocument {
	return auditDocument{
		FeedbackID:       e.FeedbackID.String(),
		UserID:           e.UserID.String(),
		ClassificationID: e.ClassificationID.String(),
		UserVerdict:      string(e.UserVerdict),
		Outcome:          string(e.Outcome),
		ValidationScore:  e.ValidationScore,
		ReputationScore:  e.ReputationScore,
		ConsistencyScore: e.ConsistencyScore,
		RecordedAt:       e.RecordedAt.UTC(),
	}
}

func (d *auditDocument) toDomain() *domain.FeedbackAuditEntry {
	return &domain.FeedbackAuditEntry{
		FeedbackID:       parseUUID(d.FeedbackID),
		UserID:           parseUUID(d.UserID),
		ClassificationID: parseUUID(d.ClassificationID),
		UserVerdict:      domain.UserVerdict(d.UserVerdict),
		Outcome:          domain.SubmissionOutcome(d.Outcome),
		ValidationScore:  d.ValidationScore,
		ReputationScore:  d.ReputationScore,
		ConsistencyScore: d.ConsistencyScore,
		RecordedAt:       d.RecordedAt,
	}
}

// parseUUID returns uuid.Nil for malformed ids.
func parseUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

// Record appends one decision.
func (a *AuditAdapter) Record(ctx context.Context, entry *domain.FeedbackAuditEntry) error {
	if _, err := a.collection.InsertOne(ctx, toAuditDocument(entry)); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListByFeedback returns the decision trail of one feedback id, oldest first.
func (a *AuditAdapter) ListByFeedback(ctx context.Context, feedbackID uuid.UUID) ([]*domain.FeedbackAuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}})
	cursor, err := a.collection.Find(ctx, bson.M{"feedback_id": feedbackID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []auditDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode audit trail: %w", err)
	}
	entries := make([]*domain.FeedbackAuditEntry, len(docs))
	for i := range docs {
		entries[i] = docs[i].toDomain()
	}
	return entries, nil
}

var (
	_ out.AuditSink   = (*AuditAdapter)(nil)
	_ out.AuditReader = (*AuditAdapter)(nil)
)
