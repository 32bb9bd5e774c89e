// Package outbox relays reservation events committed to the outbox table onto
// the message bus.
package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/fleet-rental-holds/internal/adapters/crdb"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 50
)

type Sender interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo      *crdb.Repository
	rabbitPub Sender
	logger    observability.Logger
	interval  time.Duration
	batchSize int
}

func NewPublisher(repo *crdb.Repository, rabbitPub Sender, logger observability.Logger, interval time.Duration, batchSize int) *Publisher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, interval: interval, batchSize: batchSize}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.WithError(err).Error("outbox batch failed")
			}
		}
	}
}

// PublishBatch claims one batch and publishes it. Records that fail to publish
// stay NEW and are retried on the next poll.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := p.repo.ClaimOutbox(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())
		} else {
			observability.OutboxLag.Set(0)
		}

		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Type:        rec.EventType,
				Body:        rec.Payload,
			}
			if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
				p.logger.WithError(err).WithField("dedupe_key", rec.DedupeKey).Warn("outbox publish failed")
				continue
			}
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, time.Now().UTC()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
