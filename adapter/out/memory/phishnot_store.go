// Package memory is an in-process implementation of every store port. It is
// used in development when no DATABASE_URL is configured, and by tests.
package memory

import (
	"context"
	"sync"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/google/uuid"
)

type txKey struct{}

// Store holds all state behind one mutex. WithinTx holds the mutex for the
// whole callback and restores a snapshot if the callback fails.
type Store struct {
	mu sync.Mutex

	classifications map[uuid.UUID]domain.ClassificationRecord
	feedback        map[uuid.UUID]domain.FeedbackEvent
	reputations     map[uuid.UUID]domain.UserReputation
	patterns        map[domain.PatternKey]domain.PatternWeight
	alertSettings   map[uuid.UUID]domain.AlertSettings
	alertEvents     []domain.AlertEvent
	alertAbove      map[uuid.UUID]bool
	alertLastSent   map[uuid.UUID]int64 // unix nanos

	rlMu    sync.Mutex
	windows map[windowKey][]domain.RateLimitWindow
}

type windowKey struct {
	user     uuid.UUID
	endpoint string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		classifications: map[uuid.UUID]domain.ClassificationRecord{},
		feedback:        map[uuid.UUID]domain.FeedbackEvent{},
		reputations:     map[uuid.UUID]domain.UserReputation{},
		patterns:        map[domain.PatternKey]domain.PatternWeight{},
		alertSettings:   map[uuid.UUID]domain.AlertSettings{},
		alertAbove:      map[uuid.UUID]bool{},
		alertLastSent:   map[uuid.UUID]int64{},
		windows:         map[windowKey][]domain.RateLimitWindow{},
	}
}

// snapshot copies the state a transaction may touch.
type snapshot struct {
	feedback    map[uuid.UUID]domain.FeedbackEvent
	reputations map[uuid.UUID]domain.UserReputation
	patterns    map[domain.PatternKey]domain.PatternWeight
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		feedback:    make(map[uuid.UUID]domain.FeedbackEvent, len(s.feedback)),
		reputations: make(map[uuid.UUID]domain.UserReputation, len(s.reputations)),
		patterns:    make(map[domain.PatternKey]domain.PatternWeight, len(s.patterns)),
	}
	for k, v := range s.feedback {
		snap.feedback[k] = v
	}
	for k, v := range s.reputations {
		snap.reputations[k] = v
	}
	for k, v := range s.patterns {
		snap.patterns[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.feedback = snap.feedback
	s.reputations = snap.reputations
	s.patterns = snap.patterns
}

// WithinTx implements out.Transactor. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the store mutex unless ctx already holds it through WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Accessors for each port.

func (s *Store) Classifications() *ClassificationRepo { return &ClassificationRepo{s: s} }
func (s *Store) Feedback() *FeedbackRepo              { return &FeedbackRepo{s: s} }
func (s *Store) Reputations() *ReputationRepo         { return &ReputationRepo{s: s} }
func (s *Store) Patterns() *PatternRepo               { return &PatternRepo{s: s} }
func (s *Store) RateLimits() *RateLimitRepo           { return &RateLimitRepo{s: s} }
func (s *Store) Alerts() *AlertRepo                   { return &AlertRepo{s: s} }
func (s *Store) AlertState() *AlertStateRepo          { return &AlertStateRepo{s: s} }

// PutPattern overwrites a pattern row. Test and fixture helper.
func (s *Store) PutPattern(w domain.PatternWeight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[w.Key()] = w
}

// PutReputation overwrites a reputation row. Test and fixture helper.
func (s *Store) PutReputation(r domain.UserReputation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reputations[r.UserID] = r
}

var (
	_ out.Transactor               = (*Store)(nil)
	_ out.ClassificationRepository = (*ClassificationRepo)(nil)
	_ out.FeedbackRepository       = (*FeedbackRepo)(nil)
	_ out.ReputationRepository     = (*ReputationRepo)(nil)
	_ out.PatternWeightRepository  = (*PatternRepo)(nil)
	_ out.RateLimitStore           = (*RateLimitRepo)(nil)
	_ out.AlertRepository          = (*AlertRepo)(nil)
	_ out.AlertStateStore          = (*AlertStateRepo)(nil)
)
