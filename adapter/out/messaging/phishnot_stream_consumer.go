package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler processes one stream entry. A returned error leaves the entry
// pending so it is retried.
type Handler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, stream string, data []byte) error

func (f HandlerFunc) Handle(ctx context.Context, stream string, data []byte) error {
	return f(ctx, stream, data)
}

// Consumer reads Redis Streams through a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  Handler
	log      zerolog.Logger

	batch                int64
	block                time.Duration
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int64
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  Handler
	Logger   zerolog.Logger

	// 선택 항목, 0이면 기본값
	Batch                int64
	Block                time.Duration
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int64
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger,
		batch:                cfg.Batch,
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
	if c.batch <= 0 {
		c.batch = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.pendingCheckInterval <= 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime <= 0 {
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Setup creates the consumer groups. Existing groups are left alone.
func (c *Consumer) Setup(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create group %s on %s: %w", c.group, stream, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	if err := c.Setup(ctx); err != nil {
		return err
	}
	go c.reclaimLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
		}
	}
}

// Poll reads one batch of new entries and handles them. It returns the
// number of entries acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if len(c.streams) == 0 {
		return 0, nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range result {
		for _, msg := range stream.Messages {
			if c.handle(ctx, stream.Stream, msg) {
				acked++
			}
		}
	}
	return acked, nil
}

// handle processes msg and acks it on success.
func (c *Consumer) handle(ctx context.Context, stream string, msg redis.XMessage) bool {
	log := c.log.With().Str("stream", stream).Str("id", msg.ID).Logger()

	data, ok := msg.Values["data"].(string)
	if !ok {
		// unreadable entries never succeed; drop them to the DLQ now
		log.Warn().Msg("entry has no data field")
		if err := c.deadLetter(ctx, stream, msg); err != nil {
			log.Error().Err(err).Msg("error moving entry to DLQ")
			return false
		}
		return c.ack(ctx, stream, msg.ID, log)
	}

	if err := c.handler.Handle(ctx, stream, []byte(data)); err != nil {
		log.Error().Err(err).Msg("error processing entry")
		return false
	}
	return c.ack(ctx, stream, msg.ID, log)
}

func (c *Consumer) ack(ctx context.Context, stream, id string, log zerolog.Logger) bool {
	if err := c.client.XAck(ctx, stream, c.group, id).Err(); err != nil {
		log.Error().Err(err).Msg("error acknowledging entry")
		return false
	}
	return true
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Reclaim(ctx)
		}
	}
}

// Reclaim retries entries that stayed pending longer than the idle time.
// Entries delivered maxRetries times go to the DLQ stream "dlq:<stream>".
func (c *Consumer) Reclaim(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Str("stream", stream).Msg("error listing pending entries")
			}
			continue
		}

		for _, p := range pending {
			if p.Idle < c.pendingIdleTime {
				continue
			}
			log := c.log.With().Str("stream", stream).Str("id", p.ID).Int64("retries", p.RetryCount).Logger()

			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				log.Error().Err(err).Msg("error claiming entry")
				continue
			}

			for _, msg := range claimed {
				if p.RetryCount >= c.maxRetries {
					log.Warn().Msg("entry exceeded max retries")
					if err := c.deadLetter(ctx, stream, msg); err != nil {
						log.Error().Err(err).Msg("error moving entry to DLQ")
						continue
					}
					c.ack(ctx, stream, msg.ID, log)
					continue
				}
				c.handle(ctx, stream, msg)
			}
		}
	}
}

// deadLetter copies msg to dlq:<stream> with its origin.
func (c *Consumer) deadLetter(ctx context.Context, stream string, msg redis.XMessage) error {
	values := map[string]any{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{Stream: "dlq:" + stream, Values: values}).Err()
}
