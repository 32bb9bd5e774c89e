// Package payments turns payment confirmations from the message bus into
// reservation payments.
package payments

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

type Payer interface {
	Pay(ctx context.Context, id string) (domain.Reservation, error)
}

type Confirmation struct {
	ReservationID string `json:"reservation_id"`
}

type Outcome int

const (
	Acked Outcome = iota
	Rejected
	Requeued
)

type Listener struct {
	payer  Payer
	logger observability.Logger
}

func NewListener(payer Payer, logger observability.Logger) *Listener {
	return &Listener{payer: payer, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (l *Listener) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				l.logger.Warn("payment deliveries channel closed")
				return
			}
			l.Handle(ctx, d)
		}
	}
}

// Handle pays the reservation named in d. Terminal outcomes are acknowledged,
// infrastructure failures are requeued.
func (l *Listener) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	var msg Confirmation
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.ReservationID == "" {
		l.logger.WithField("message_id", d.MessageId).Warn("dropping malformed payment confirmation")
		l.settle(d.Ack(false))
		return Rejected
	}

	log := l.logger.WithField("reservation_id", msg.ReservationID)
	_, err := l.payer.Pay(ctx, msg.ReservationID)
	switch {
	case err == nil:
		log.Info("reservation paid from confirmation")
		l.settle(d.Ack(false))
		return Acked
	case domain.KindOf(err) == domain.KindInfrastructure:
		log.WithError(err).Error("payment confirmation failed, requeueing")
		l.settle(d.Nack(false, true))
		return Requeued
	default:
		log.WithError(err).Warn("payment confirmation rejected")
		l.settle(d.Ack(false))
		return Rejected
	}
}

func (l *Listener) settle(err error) {
	if err != nil {
		l.logger.WithError(errors.Wrap(err, "settle delivery")).Error("amqp settle failed")
	}
}
