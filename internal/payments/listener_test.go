package payments

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/stretchr/testify/assert"
)

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}
func (f *fakeAck) Reject(_ uint64, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

type payerFunc func(ctx context.Context, id string) (domain.Reservation, error)

func (f payerFunc) Pay(ctx context.Context, id string) (domain.Reservation, error) { return f(ctx, id) }

func delivery(body string) (amqp.Delivery, *fakeAck) {
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body)}, ack
}

func TestListener_Handle(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		payErr  error
		want    Outcome
		requeue bool
	}{
		{name: "paid", body: `{"reservation_id":"BR-ABC123"}`, want: Acked},
		{name: "malformed", body: `not json`, want: Rejected},
		{name: "missing id", body: `{}`, want: Rejected},
		{name: "expired", body: `{"reservation_id":"BR-ABC123"}`, payErr: errors.Wrap(domain.ErrBookingExpiredOrCancelled, "x"), want: Rejected},
		{name: "unknown", body: `{"reservation_id":"BR-ABC123"}`, payErr: domain.ErrNotFound, want: Rejected},
		{name: "db down", body: `{"reservation_id":"BR-ABC123"}`, payErr: errors.Mark(errors.New("timeout"), domain.ErrInfrastructure), want: Requeued, requeue: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var paid string
			l := NewListener(payerFunc(func(_ context.Context, id string) (domain.Reservation, error) {
				paid = id
				return domain.Reservation{ID: id, Status: domain.StatusPaid}, tt.payErr
			}), observability.NewNopLogger())

			d, ack := delivery(tt.body)
			got := l.Handle(context.Background(), d)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.requeue, ack.requeued)
			assert.Equal(t, tt.want != Requeued, ack.acked)
			if tt.want == Acked {
				assert.Equal(t, "BR-ABC123", paid)
			}
		})
	}
}

func TestListener_RunStopsOnClose(t *testing.T) {
	var calls int
	l := NewListener(payerFunc(func(context.Context, string) (domain.Reservation, error) {
		calls++
		return domain.Reservation{}, nil
	}), observability.NewNopLogger())

	ch := make(chan amqp.Delivery, 2)
	d1, ack1 := delivery(`{"reservation_id":"BR-AAAAAA"}`)
	d2, ack2 := delivery(`{"reservation_id":"BR-BBBBBB"}`)
	ch <- d1
	ch <- d2
	close(ch)

	l.Run(context.Background(), ch)
	assert.Equal(t, 2, calls)
	assert.True(t, ack1.acked)
	assert.True(t, ack2.acked)
}
