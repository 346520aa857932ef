// Package worker holds the stream handlers run by the worker process.
package worker

import (
	"context"
	"fmt"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultProjectTimeout = 10 * time.Second

// Projector feeds accepted feedback events into the pattern graph.
// Errors leave the entry pending so the consumer retries it.
type Projector struct {
	graph   out.PatternGraph
	timeout time.Duration
	log     zerolog.Logger
}

func NewProjector(graph out.PatternGraph, timeout time.Duration, log zerolog.Logger) *Projector {
	if timeout <= 0 {
		timeout = defaultProjectTimeout
	}
	return &Projector{
		graph:   graph,
		timeout: timeout,
		log:     log.With().Str("component", "projector").Logger(),
	}
}

// Handle implements messaging.Handler.
func (p *Projector) Handle(ctx context.Context, stream string, data []byte) error {
	var ev domain.FeedbackAcceptedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode %s event: %w", stream, err)
	}
	if ev.FeedbackID == uuid.Nil {
		return fmt.Errorf("decode %s event: missing feedback_id", stream)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.graph.Project(ctx, &ev); err != nil {
		return fmt.Errorf("project feedback %s: %w", ev.FeedbackID, err)
	}

	p.log.Debug().
		Str("feedback_id", ev.FeedbackID.String()).
		Str("sender_domain", ev.SenderDomain).
		Int("patterns", len(ev.Patterns)).
		Dur("took", time.Since(start)).
		Msg("feedback projected")
	return nil
}
