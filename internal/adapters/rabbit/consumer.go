package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	PaymentsQueue      = "payments.confirmed"
	PaymentSucceeded   = "payment.succeeded"
	consumerPrefetch   = 16
	consumerTagPayment = "fleet-payments"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to the events exchange with key.
func NewConsumer(conn *amqp.Connection, queue, key string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, consumerTagPayment, false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
