package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/engagekit/campaign-engine/internal/repository"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Relay polls the outbox and publishes pending lifecycle events to
// Kafka, keyed by campaign id so one campaign's events stay ordered.
// Delivery is at-least-once: consumers dedupe on the campaign id,
// status and occurred_at carried in the payload.
type Relay struct {
	Outbox   repository.OutboxRepository
	Producer Publisher
	Log      *zap.Logger

	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox repository.OutboxRepository, producer Publisher, log *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		Outbox:       outbox,
		Producer:     producer,
		Log:          log,
		PollInterval: pollInterval,
		BatchSize:    batchSize,
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	tick := time.NewTicker(r.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				r.Log.Warn("outbox drain", zap.Error(err))
			}
		}
	}
}

// drain publishes every currently pending event, oldest first.
func (r *Relay) drain(ctx context.Context) error {
	for {
		events, err := r.Outbox.FetchUnpublished(ctx, r.BatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		published := make([]int64, 0, len(events))
		for _, ev := range events {
			if err := r.Producer.Publish(ctx, ev.AggregateID, ev.Payload); err != nil {
				// Mark what made it out; the rest retries next tick.
				if len(published) > 0 {
					if merr := r.Outbox.MarkPublished(ctx, published); merr != nil {
						return merr
					}
				}
				return err
			}
			published = append(published, ev.ID)
		}

		if err := r.Outbox.MarkPublished(ctx, published); err != nil {
			return err
		}
		r.Log.Debug("outbox drained", zap.Int("events", len(published)))

		if len(events) < r.BatchSize {
			return nil
		}
	}
}
