package graph

import (
	"context"
	"fmt"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Neo4j Pattern Projector
// =============================================================================
//
// (:Domain {name})-[:EXHIBITS {feedback}]->(:Pattern {type, value, boost})
// (:Feedback {id}) marks events already projected.

// PatternProjector implements out.PatternGraph using Neo4j.
type PatternProjector struct {
	driver neo4j.DriverWithContext
	dbName string
}

// NewPatternProjector creates a new projector.
func NewPatternProjector(driver neo4j.DriverWithContext, dbName string) *PatternProjector {
	return &PatternProjector{driver: driver, dbName: dbName}
}

// EnsureIndexes creates the uniqueness constraints MERGE relies on.
func (p *PatternProjector) EnsureIndexes(ctx context.Context) error {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: p.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT domain_name IF NOT EXISTS FOR (d:Domain) REQUIRE d.name IS UNIQUE`,
		`CREATE CONSTRAINT pattern_key IF NOT EXISTS FOR (p:Pattern) REQUIRE (p.type, p.value) IS UNIQUE`,
		`CREATE CONSTRAINT feedback_id IF NOT EXISTS FOR (f:Feedback) REQUIRE f.id IS UNIQUE`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

const (
	claimFeedbackQuery = `
		MERGE (f:Feedback {id: $feedbackID})
		ON CREATE SET f.accepted_at = $acceptedAt, f.user_id = $userID, f.new = true
		ON MATCH SET f.new = false
		WITH f, f.new AS isNew
		REMOVE f.new
		RETURN isNew
	`

	projectDomainQuery = `
		MERGE (d:Domain {name: $domain})
		SET d.boost = coalesce($domainBoost, d.boost)
	`

	projectPatternsQuery = `
		UNWIND $patterns AS p
		MERGE (pt:Pattern {type: p.type, value: p.value})
		SET pt.boost = p.boost,
			pt.feedback_count = p.count,
			pt.updated_at = p.updatedAt
		WITH pt
		MATCH (d:Domain {name: $domain})
		MERGE (d)-[r:EXHIBITS]->(pt)
		ON CREATE SET r.feedback = 1
		ON MATCH SET r.feedback = r.feedback + 1
	`
)

// Project folds one accepted feedback into the graph. Redelivery of the same
// event is a no-op.
func (p *PatternProjector) Project(ctx context.Context, ev *domain.FeedbackAcceptedEvent) error {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: p.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, claimFeedbackQuery, map[string]any{
			"feedbackID": ev.FeedbackID.String(),
			"userID":     ev.UserID.String(),
			"acceptedAt": ev.AcceptedAt.Unix(),
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if isNew, _ := record.Get("isNew"); isNew != true {
			return nil, nil
		}

		params := projectionParams(ev)
		if ev.SenderDomain != "" {
			if _, err := tx.Run(ctx, projectDomainQuery, params); err != nil {
				return nil, err
			}
		}
		if len(params["patterns"].([]map[string]any)) == 0 {
			return nil, nil
		}
		_, err = tx.Run(ctx, projectPatternsQuery, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to project feedback %s: %w", ev.FeedbackID, err)
	}
	return nil
}

// projectionParams builds the Cypher parameters for ev.
func projectionParams(ev *domain.FeedbackAcceptedEvent) map[string]any {
	var domainBoost any
	patterns := make([]map[string]any, 0, len(ev.Patterns))
	for _, w := range ev.Patterns {
		if w.PatternType == domain.PatternSenderDomain {
			// the domain itself is the Domain node
			if w.PatternValue == ev.SenderDomain {
				domainBoost = w.ConfidenceBoost
			}
			continue
		}
		patterns = append(patterns, map[string]any{
			"type":      string(w.PatternType),
			"value":     w.PatternValue,
			"boost":     w.ConfidenceBoost,
			"count":     int64(w.FeedbackCount),
			"updatedAt": w.UpdatedAt.Unix(),
		})
	}
	return map[string]any{
		"domain":      ev.SenderDomain,
		"domainBoost": domainBoost,
		"patterns":    patterns,
	}
}

var _ out.PatternGraph = (*PatternProjector)(nil)
