package booking_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/adapters/memory"
	"github.com/robertarktes/fleet-rental-holds/internal/booking"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []domain.Transition
}

func (a *recordingAuditor) Record(_ context.Context, _ domain.Reservation, t domain.Transition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, t)
	return nil
}

func (a *recordingAuditor) Events() []domain.Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Transition(nil), a.events...)
}

type fixture struct {
	store   *memory.Store
	ledger  *memory.Ledger
	catalog *memory.Catalog
	clock   *fakeClock
	audit   *recordingAuditor
	manager *booking.Manager
}

func newFixture(t *testing.T, vehicles ...domain.Vehicle) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		ledger:  memory.NewLedger(),
		catalog: memory.NewCatalog(vehicles...),
		clock:   newFakeClock(),
		audit:   &recordingAuditor{},
	}
	f.manager = f.newManager(f.store, f.ledger)
	return f
}

func (f *fixture) newManager(store booking.Store, ledger booking.Ledger) *booking.Manager {
	return booking.NewManager(store, ledger, f.catalog, observability.NewNopLogger(),
		booking.WithClock(f.clock.Now),
		booking.WithHoldDuration(30*time.Second),
		booking.WithAuditor(f.audit),
	)
}

func (f *fixture) reserved(t *testing.T, vehicleID string) int {
	t.Helper()
	units, err := f.ledger.Units(context.Background(), vehicleID)
	require.NoError(t, err)
	return units.ReservedUnits
}

func vehicle(id string, units int) domain.Vehicle {
	return domain.Vehicle{ID: id, Name: "Swift", Type: "Compact", DailyRate: decimal.NewFromInt(100), TotalUnits: units}
}

func request(holder, vehicleID string, days int) booking.CreateRequest {
	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	return booking.CreateRequest{
		HolderID:  holder,
		VehicleID: vehicleID,
		Dates:     domain.DateRange{Start: start, End: start.AddDate(0, 0, days)},
	}
}

func TestManager_HappyPath(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()

	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 3))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReserved, r.Status)
	assert.True(t, decimal.NewFromInt(300).Equal(r.RentAmount))
	require.NotNil(t, r.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), *r.ExpiresAt)
	assert.Equal(t, 1, f.reserved(t, "car-1"))

	paid, err := f.manager.Pay(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.Nil(t, paid.ExpiresAt)
	assert.Equal(t, 1, f.reserved(t, "car-1"))

	events := f.audit.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusReserved, events[0].To)
	assert.Equal(t, domain.StatusPaid, events[1].To)
}

func TestManager_CreateValidation(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()

	_, err := f.manager.Create(ctx, request("holder-1", "car-1", 0))
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)

	_, err = f.manager.Create(ctx, request("holder-1", "car-1", -2))
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)

	_, err = f.manager.Create(ctx, request("", "car-1", 2))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req := request("holder-1", "car-1", 2)
	req.Times = &domain.TimeRange{Start: "9am", End: "18:00"}
	_, err = f.manager.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.ledger.Units(ctx, "car-1")
	assert.ErrorIs(t, err, domain.ErrLedgerUnknownVehicle, "validation failures must not touch the ledger")
}

func TestManager_CreateUnknownVehicle(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create(context.Background(), request("holder-1", "car-9", 2))
	assert.ErrorIs(t, err, domain.ErrVehicleNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestManager_CreateSeesCatalogCapacityIncrease(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()

	_, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, request("holder-2", "car-1", 2))
	require.ErrorIs(t, err, domain.ErrVehicleUnavailable)

	f.catalog.Put(vehicle("car-1", 3))

	for _, holder := range []string{"holder-2", "holder-3"} {
		_, err = f.manager.Create(ctx, request(holder, "car-1", 2))
		require.NoError(t, err)
	}
	_, err = f.manager.Create(ctx, request("holder-4", "car-1", 2))
	assert.ErrorIs(t, err, domain.ErrVehicleUnavailable)

	units, err := f.ledger.Units(ctx, "car-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Units{VehicleID: "car-1", TotalUnits: 3, ReservedUnits: 3}, units)
}

func TestManager_CreateIgnoresCatalogTotalBelowReserved(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 2))
	ctx := context.Background()
	for _, holder := range []string{"holder-1", "holder-2"} {
		_, err := f.manager.Create(ctx, request(holder, "car-1", 2))
		require.NoError(t, err)
	}

	f.catalog.Put(vehicle("car-1", 1))

	_, err := f.manager.Create(ctx, request("holder-3", "car-1", 2))
	assert.ErrorIs(t, err, domain.ErrVehicleUnavailable)
	assert.Equal(t, 2, f.reserved(t, "car-1"))
}

func TestManager_CreateKeepsAdvisoryTimes(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	req := request("holder-1", "car-1", 2)
	req.Times = &domain.TimeRange{Start: "09:00", End: "18:30"}

	r, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, r.Times)
	assert.Equal(t, "18:30", r.Times.End)
}

func TestManager_CreateAppliesLongRentalDiscount(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))

	r, err := f.manager.Create(context.Background(), request("holder-1", "car-1", 7))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(594).Equal(r.RentAmount), "got %s", r.RentAmount)
}

func TestManager_ConcurrentCreateLastUnitHasOneWinner(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()

	const callers = 25
	var wg sync.WaitGroup
	var won, unavailable atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domain.ErrVehicleUnavailable):
				unavailable.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(callers-1), unavailable.Load())
	assert.Equal(t, 1, f.reserved(t, "car-1"))
}

func TestManager_CapacityInvariantUnderLoad(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 3), vehicle("car-2", 2))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vehicleID := "car-1"
			if i%2 == 0 {
				vehicleID = "car-2"
			}
			r, err := f.manager.Create(ctx, request("holder-1", vehicleID, 2))
			if err == nil && i%3 == 0 {
				_, _ = f.manager.Cancel(ctx, r.ID, domain.ReasonManual)
			}
		}(i)
	}
	wg.Wait()

	for _, v := range []domain.Vehicle{vehicle("car-1", 3), vehicle("car-2", 2)} {
		units, err := f.ledger.Units(ctx, v.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, units.ReservedUnits, 0)
		assert.LessOrEqual(t, units.ReservedUnits, v.TotalUnits)
	}

	holding, err := f.store.CountHolding(ctx)
	require.NoError(t, err)
	assert.Equal(t, holding["car-1"], f.reserved(t, "car-1"))
	assert.Equal(t, holding["car-2"], f.reserved(t, "car-2"))
}

type failingCreateStore struct {
	*memory.Store
	failures   int
	err        error
	createCall atomic.Int32
}

func (s *failingCreateStore) Create(ctx context.Context, r domain.Reservation) (string, error) {
	if int(s.createCall.Add(1)) <= s.failures {
		return "", s.err
	}
	return s.Store.Create(ctx, r)
}

func TestManager_CreateRollsBackLedgerWhenPersistFails(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	store := &failingCreateStore{Store: f.store, failures: 1, err: errors.New("connection reset")}
	manager := f.newManager(store, f.ledger)
	ctx := context.Background()

	_, err := manager.Create(ctx, request("holder-1", "car-1", 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInfrastructure))
	assert.Equal(t, domain.KindInfrastructure, domain.KindOf(err))
	assert.Equal(t, 0, f.reserved(t, "car-1"))

	r, err := manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err, "the compensated unit must be available again")
	assert.Equal(t, domain.StatusReserved, r.Status)
}

func TestManager_CreateRetriesDuplicateIDs(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	store := &failingCreateStore{Store: f.store, failures: 2, err: domain.ErrDuplicateID}
	manager := f.newManager(store, f.ledger)

	r, err := manager.Create(context.Background(), request("holder-1", "car-1", 2))
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.createCall.Load())
	assert.Equal(t, 1, f.reserved(t, "car-1"))

	got, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestManager_PayIsIdempotent(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()
	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)

	first, err := f.manager.Pay(ctx, r.ID)
	require.NoError(t, err)
	second, err := f.manager.Pay(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.audit.Events(), 2, "second payment must not transition again")
	assert.Equal(t, 1, f.reserved(t, "car-1"))
}

func TestManager_PayErrors(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()

	_, err := f.manager.Pay(ctx, "BR-NOPE00")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)
	_, err = f.manager.Cancel(ctx, r.ID, domain.ReasonManual)
	require.NoError(t, err)

	_, err = f.manager.Pay(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrBookingExpiredOrCancelled)
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))
}

func TestManager_CancelPaidBookingRejected(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()
	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)
	_, err = f.manager.Pay(ctx, r.ID)
	require.NoError(t, err)

	_, err = f.manager.Cancel(ctx, r.ID, domain.ReasonManual)
	assert.ErrorIs(t, err, domain.ErrCannotCancelPaidBooking)
	assert.Equal(t, 1, f.reserved(t, "car-1"))
}

func TestManager_CancelTwiceReleasesOnce(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 2))
	ctx := context.Background()
	r1, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, request("holder-2", "car-1", 2))
	require.NoError(t, err)
	require.Equal(t, 2, f.reserved(t, "car-1"))

	cancelled, err := f.manager.Cancel(ctx, r1.ID, domain.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, domain.ReasonManual, cancelled.CancelReason)
	assert.Nil(t, cancelled.ExpiresAt)
	assert.Equal(t, 1, f.reserved(t, "car-1"))

	_, err = f.manager.Cancel(ctx, r1.ID, domain.ReasonManual)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	assert.Equal(t, 1, f.reserved(t, "car-1"))
}

// racingStore lets a competing transition win just before the caller's update.
type racingStore struct {
	*memory.Store
	competitor domain.Status
	once       sync.Once
}

func (s *racingStore) UpdateStatus(ctx context.Context, id string, t domain.Transition) (domain.Reservation, error) {
	s.once.Do(func() {
		reason := domain.ReasonNone
		if s.competitor == domain.StatusCancelled {
			reason = domain.ReasonTimeout
		}
		_, _ = s.Store.UpdateStatus(ctx, id, domain.Transition{From: domain.StatusReserved, To: s.competitor, Reason: reason, At: t.At})
	})
	return s.Store.UpdateStatus(ctx, id, t)
}

func TestManager_PayLosesRaceToExpiry(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()
	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)

	manager := f.newManager(&racingStore{Store: f.store, competitor: domain.StatusCancelled}, f.ledger)
	_, err = manager.Pay(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrBookingExpiredOrCancelled)
}

func TestManager_PayLosesRaceToOtherPayment(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()
	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)

	manager := f.newManager(&racingStore{Store: f.store, competitor: domain.StatusPaid}, f.ledger)
	paid, err := manager.Pay(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
}

func TestManager_CancelLosesRaceToPayment(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()
	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)

	manager := f.newManager(&racingStore{Store: f.store, competitor: domain.StatusPaid}, f.ledger)
	_, err = manager.Cancel(ctx, r.ID, domain.ReasonTimeout)
	assert.ErrorIs(t, err, domain.ErrCannotCancelPaidBooking)
	assert.Equal(t, 1, f.reserved(t, "car-1"), "inventory must stay reserved for the paid booking")
}

type failingReleaseLedger struct {
	*memory.Ledger
}

func (l failingReleaseLedger) Release(context.Context, string) error {
	return errors.New("ledger unavailable")
}

func TestManager_CancelSucceedsWhenReleaseFails(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 1))
	ctx := context.Background()
	r, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)

	manager := f.newManager(f.store, failingReleaseLedger{Ledger: f.ledger})
	cancelled, err := manager.Cancel(ctx, r.ID, domain.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, 1, f.reserved(t, "car-1"), "leaked unit is left for the reconciler")
}

func TestManager_ListForHolderNewestFirst(t *testing.T) {
	f := newFixture(t, vehicle("car-1", 5))
	ctx := context.Background()

	first, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.manager.Create(ctx, request("holder-1", "car-1", 2))
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, request("holder-2", "car-1", 2))
	require.NoError(t, err)

	list, err := f.manager.ListForHolder(ctx, "holder-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
