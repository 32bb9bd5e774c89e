package outbox_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/fleet-rental-holds/internal/adapters/crdb"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/robertarktes/fleet-rental-holds/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type recordingSender struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []amqp.Publishing
}

func (s *recordingSender) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.MessageId] {
		return errors.New("channel closed")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestPublisher_PublishBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "26257")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, crdb.Migrate(ctx, pool))

	repo := crdb.NewRepository(pool)
	now := time.Now().UTC()
	dates := domain.DateRange{Start: now, End: now.AddDate(0, 0, 3)}
	first := domain.NewReservation("holder-1", "car-1", dates, nil, decimal.NewFromInt(300), now, 30*time.Second)
	second := domain.NewReservation("holder-1", "car-1", dates, nil, decimal.NewFromInt(300), now, 30*time.Second)
	_, err = repo.Create(ctx, first)
	require.NoError(t, err)
	_, err = repo.Create(ctx, second)
	require.NoError(t, err)

	sender := &recordingSender{fail: map[string]bool{second.ID + ":" + crdb.EventReservationCreated: true}}
	pub := outbox.NewPublisher(repo, sender, observability.NewNopLogger(), time.Second, 10)

	n, err := pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, first.ID+":"+crdb.EventReservationCreated, sender.sent[0].MessageId)
	assert.Equal(t, crdb.EventReservationCreated, sender.sent[0].Type)

	sender.fail = nil
	n, err = pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the failed record is retried")

	n, err = pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
