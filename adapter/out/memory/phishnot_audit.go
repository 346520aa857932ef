package memory

import (
	"context"
	"sync"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/google/uuid"
)

// AuditLog keeps decision entries in process. Used when MongoDB is not configured.
type AuditLog struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]domain.FeedbackAuditEntry
	max     int
}

// NewAuditLog keeps at most maxPerFeedback entries per feedback id (0 = unbounded).
func NewAuditLog(maxPerFeedback int) *AuditLog {
	return &AuditLog{entries: map[uuid.UUID][]domain.FeedbackAuditEntry{}, max: maxPerFeedback}
}

func (l *AuditLog) Record(ctx context.Context, entry *domain.FeedbackAuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	trail := append(l.entries[entry.FeedbackID], *entry)
	if l.max > 0 && len(trail) > l.max {
		trail = trail[len(trail)-l.max:]
	}
	l.entries[entry.FeedbackID] = trail
	return nil
}

func (l *AuditLog) ListByFeedback(ctx context.Context, feedbackID uuid.UUID) ([]*domain.FeedbackAuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	trail := l.entries[feedbackID]
	out := make([]*domain.FeedbackAuditEntry, len(trail))
	for i := range trail {
		e := trail[i]
		out[i] = &e
	}
	return out, nil
}

var (
	_ out.AuditSink   = (*AuditLog)(nil)
	_ out.AuditReader = (*AuditLog)(nil)
)
