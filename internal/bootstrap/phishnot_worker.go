package bootstrap

import (
	"context"
	"errors"
	"os"
	"time"

	"phishnot_server/adapter/in/worker"
	"phishnot_server/adapter/out/messaging"
	"phishnot_server/config"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const consumerGroup = "phishnot-projector"

// Worker consumes accepted-feedback events and projects them into the pattern graph.
type Worker struct {
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	zlog     zerolog.Logger
}

func NewWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zlog := zerolog.New(os.Stdout).Level(level).
		With().Timestamp().Str("component", "worker").Str("worker_id", cfg.WorkerID).Logger()
	if cfg.IsDevelopment() {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	w := &Worker{deps: deps, done: make(chan struct{}), zlog: zlog}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	switch {
	case deps.Redis == nil:
		zlog.Warn().Msg("REDIS_URL not set, no events to consume")
	case deps.PatternGraph == nil:
		zlog.Warn().Msg("Neo4j not configured, pattern graph projection disabled")
	default:
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                consumerGroup,
			Consumer:             cfg.WorkerID,
			Streams:              []string{messaging.StreamFeedbackAccepted},
			Handler:              worker.NewProjector(deps.PatternGraph, 0, zlog),
			Logger:               zlog,
			Batch:                int64(cfg.ConsumerBatchSize),
			Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			MaxRetries:           int64(cfg.ConsumerMaxRetries),
		})
	}

	return w, cleanup, nil
}

// Start blocks until Stop is called or the consumer fails.
func (w *Worker) Start() error {
	defer close(w.done)

	g, ctx := errgroup.WithContext(w.ctx)
	if w.consumer != nil {
		g.Go(func() error {
			w.zlog.Info().Str("stream", messaging.StreamFeedbackAccepted).Msg("starting projector consumer")
			err := w.consumer.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	if err != nil {
		w.zlog.Error().Err(err).Msg("worker stopped with error")
	}
	return err
}

// Stop cancels the consumer and waits for Start to return.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
