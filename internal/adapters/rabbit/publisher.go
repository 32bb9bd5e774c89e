package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

const (
	Exchange = "fleet.events"

	publishAttempts = 3
	publishBackoff  = 200 * time.Millisecond
)

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
}

// Publish sends msg with routing key key, retrying transient channel errors.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * publishBackoff):
			}
		}
		err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "publish %s", key)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
