// Package outbox ships committed payment notifications to RabbitMQ. Delivery
// is at-least-once; consumers dedupe on the message id.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/payment-orders/internal/adapters/postgres"
	"github.com/robertarktes/payment-orders/internal/adapters/rabbit"
	"github.com/robertarktes/payment-orders/internal/observability"
)

type Publisher struct {
	repo      *postgres.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
	interval  time.Duration
	batchSize int
}

func NewPublisher(repo *postgres.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger,
		interval:  5 * time.Second,
		batchSize: 50,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
			p.observeLag(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batchSize)
	if err != nil {
		p.logger.WithError(err).Error("failed to read outbox")
		return
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithError(err).WithField("outbox_id", rec.ID).Warn("publish failed, will retry")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			// The row stays NEW and ships again; MessageId covers the duplicate.
			p.logger.WithError(err).WithField("outbox_id", rec.ID).Error("failed to mark published")
		}
	}
}

func (p *Publisher) observeLag(ctx context.Context) {
	lag, err := p.repo.OldestUnpublishedAge(ctx, time.Now())
	if err != nil {
		p.logger.WithError(err).Debug("failed to read outbox lag")
		return
	}
	observability.OutboxLag.Set(lag.Seconds())
}
