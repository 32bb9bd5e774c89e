package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newReservation(holder string, createdAt time.Time, hold time.Duration) domain.Reservation {
	dates := domain.DateRange{Start: base, End: base.AddDate(0, 0, 3)}
	return domain.NewReservation(holder, "car-1", dates, nil, decimal.NewFromInt(300), createdAt, hold)
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	r := newReservation("holder-1", base, 30*time.Second)

	id, err := store.Create(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, r.ID, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, domain.StatusReserved, got.Status)

	_, err = store.Create(ctx, r)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	_, err = store.Get(ctx, "BR-NOPE00")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	r := newReservation("holder-1", base, 30*time.Second)
	_, err := store.Create(ctx, r)
	require.NoError(t, err)

	got, _ := store.Get(ctx, r.ID)
	*got.ExpiresAt = base.Add(time.Hour)

	again, _ := store.Get(ctx, r.ID)
	assert.Equal(t, base.Add(30*time.Second), *again.ExpiresAt)
}

func TestStore_UpdateStatusIsConditional(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	r := newReservation("holder-1", base, 30*time.Second)
	_, err := store.Create(ctx, r)
	require.NoError(t, err)

	paid, err := store.UpdateStatus(ctx, r.ID, domain.Transition{From: domain.StatusReserved, To: domain.StatusPaid, At: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.Nil(t, paid.ExpiresAt)

	_, err = store.UpdateStatus(ctx, r.ID, domain.Transition{From: domain.StatusReserved, To: domain.StatusCancelled, Reason: domain.ReasonTimeout, At: base.Add(time.Minute)})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, _ := store.Get(ctx, r.ID)
	assert.Equal(t, domain.StatusPaid, got.Status)

	_, err = store.UpdateStatus(ctx, "BR-NOPE00", domain.Transition{From: domain.StatusReserved, To: domain.StatusPaid})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	r := newReservation("holder-1", base, 30*time.Second)
	_, err := store.Create(ctx, r)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 20; i++ {
		to := domain.StatusPaid
		if i%2 == 0 {
			to = domain.StatusCancelled
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateStatus(ctx, r.ID, domain.Transition{From: domain.StatusReserved, To: to, At: base})
			if err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestStore_FindExpiredReserved(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	expired := newReservation("holder-1", base, 30*time.Second)
	fresh := newReservation("holder-1", base.Add(time.Minute), 30*time.Second)
	paid := newReservation("holder-2", base, 30*time.Second)
	for _, r := range []domain.Reservation{expired, fresh, paid} {
		_, err := store.Create(ctx, r)
		require.NoError(t, err)
	}
	_, err := store.UpdateStatus(ctx, paid.ID, domain.Transition{From: domain.StatusReserved, To: domain.StatusPaid, At: base})
	require.NoError(t, err)

	found, err := store.FindExpiredReserved(ctx, base.Add(45*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, expired.ID, found[0].ID)

	limited, err := store.FindExpiredReserved(ctx, base.Add(time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_ListByHolderNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	older := newReservation("holder-1", base, time.Minute)
	newer := newReservation("holder-1", base.Add(time.Hour), time.Minute)
	other := newReservation("holder-2", base.Add(2*time.Hour), time.Minute)
	for _, r := range []domain.Reservation{older, newer, other} {
		_, err := store.Create(ctx, r)
		require.NoError(t, err)
	}

	list, err := store.ListByHolder(ctx, "holder-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestStore_CountHolding(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	held := newReservation("holder-1", base, time.Minute)
	paid := newReservation("holder-1", base, time.Minute)
	cancelled := newReservation("holder-1", base, time.Minute)
	for _, r := range []domain.Reservation{held, paid, cancelled} {
		_, err := store.Create(ctx, r)
		require.NoError(t, err)
	}
	_, err := store.UpdateStatus(ctx, paid.ID, domain.Transition{From: domain.StatusReserved, To: domain.StatusPaid, At: base})
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, cancelled.ID, domain.Transition{From: domain.StatusReserved, To: domain.StatusCancelled, Reason: domain.ReasonManual, At: base})
	require.NoError(t, err)

	counts, err := store.CountHolding(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"car-1": 2}, counts)
}
