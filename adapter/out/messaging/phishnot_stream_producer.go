// Package messaging provides Redis Streams adapters.
package messaging

import (
	"context"
	"fmt"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamFeedbackAccepted = "feedback:accepted"
	StreamAlertThreshold   = "alert:threshold"
)

// defaultMaxLen caps each stream; trimming is approximate.
const defaultMaxLen = 100_000

// RedisProducer implements out.EventPublisher using Redis Streams.
type RedisProducer struct {
	client *redis.Client
	maxLen int64
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client, maxLen: defaultMaxLen}
}

// PublishFeedbackAccepted publishes a committed acceptance for the graph projector.
func (p *RedisProducer) PublishFeedbackAccepted(ctx context.Context, ev *domain.FeedbackAcceptedEvent) error {
	return p.publish(ctx, StreamFeedbackAccepted, ev.FeedbackID.String(), ev)
}

// PublishAlert publishes a threshold alert for the notification service.
func (p *RedisProducer) PublishAlert(ctx context.Context, ev *domain.AlertEvent) error {
	return p.publish(ctx, StreamAlertThreshold, ev.ID.String(), ev)
}

func (p *RedisProducer) publish(ctx context.Context, stream, eventID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", stream, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{
			"event_id": eventID,
			"data":     string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

var _ out.EventPublisher = (*RedisProducer)(nil)
