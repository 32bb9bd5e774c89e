package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/robertarktes/fleet-rental-holds/internal/pricing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHoldDuration = 30 * time.Second

	maxIDAttempts = 5
	clockLayout   = "15:04"
)

type CreateRequest struct {
	HolderID  string
	VehicleID string
	Dates     domain.DateRange
	Times     *domain.TimeRange
}

func (r CreateRequest) validate() error {
	if r.HolderID == "" {
		return errors.Wrap(domain.ErrInvalidInput, "holder id is required")
	}
	if r.VehicleID == "" {
		return errors.Wrap(domain.ErrInvalidInput, "vehicle id is required")
	}
	if r.Dates.Start.IsZero() || r.Dates.End.IsZero() {
		return errors.Wrap(domain.ErrInvalidInput, "start and end dates are required")
	}
	if !r.Dates.Valid() {
		return domain.ErrInvalidDateRange
	}
	if r.Times != nil {
		if _, err := time.Parse(clockLayout, r.Times.Start); err != nil {
			return errors.Wrapf(domain.ErrInvalidInput, "start time %q", r.Times.Start)
		}
		if _, err := time.Parse(clockLayout, r.Times.End); err != nil {
			return errors.Wrapf(domain.ErrInvalidInput, "end time %q", r.Times.End)
		}
	}
	return nil
}

// Manager drives reservations through RESERVED -> PAID | CANCELLED and keeps
// the inventory ledger in step with every transition.
type Manager struct {
	store        Store
	ledger       Ledger
	catalog      Catalog
	audit        Auditor
	logger       observability.Logger
	tracer       trace.Tracer
	holdDuration time.Duration
	now          func() time.Time
}

type Option func(*Manager)

func WithHoldDuration(d time.Duration) Option {
	return func(m *Manager) { m.holdDuration = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.audit = a }
}

func NewManager(store Store, ledger Ledger, catalog Catalog, logger observability.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		ledger:       ledger,
		catalog:      catalog,
		audit:        nopAuditor{},
		logger:       logger,
		tracer:       otel.Tracer("booking"),
		holdDuration: DefaultHoldDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create places a hold on one unit of the vehicle. The unit is taken from the
// ledger before the reservation is written and given back if the write fails.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "booking.Create", trace.WithAttributes(attribute.String("vehicle.id", req.VehicleID)))
	defer span.End()

	if err := req.validate(); err != nil {
		observability.ReservationsCreated.WithLabelValues("invalid").Inc()
		return domain.Reservation{}, err
	}

	vehicle, err := m.catalog.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		if errors.Is(err, domain.ErrVehicleNotFound) {
			observability.ReservationsCreated.WithLabelValues("vehicle_not_found").Inc()
			return domain.Reservation{}, errors.Wrapf(domain.ErrVehicleNotFound, "vehicle %s", req.VehicleID)
		}
		return domain.Reservation{}, infra(err, "get vehicle")
	}

	rent := pricing.ComputeRent(vehicle.DailyRate, req.Dates.Days())

	if err := m.reserveUnit(ctx, vehicle); err != nil {
		if errors.Is(err, domain.ErrVehicleUnavailable) {
			observability.ReservationsCreated.WithLabelValues("unavailable").Inc()
		}
		return domain.Reservation{}, err
	}

	now := m.now()
	var created domain.Reservation
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		created = domain.NewReservation(req.HolderID, vehicle.ID, req.Dates, req.Times, rent, now, m.holdDuration)
		_, err = m.store.Create(ctx, created)
		if !errors.Is(err, domain.ErrDuplicateID) {
			break
		}
	}
	if err != nil {
		m.compensate(ctx, vehicle.ID, err)
		observability.ReservationsCreated.WithLabelValues("error").Inc()
		return domain.Reservation{}, infra(err, "persist reservation")
	}

	observability.ReservationsCreated.WithLabelValues("created").Inc()
	m.record(ctx, created, domain.Transition{To: domain.StatusReserved, At: now})
	m.logger.WithField("reservation_id", created.ID).
		WithField("vehicle_id", created.VehicleID).
		WithField("expires_at", created.ExpiresAt).
		Info("reservation held")
	return created, nil
}

func (m *Manager) reserveUnit(ctx context.Context, vehicle domain.Vehicle) error {
	err := m.ledger.TryReserve(ctx, vehicle.ID)
	if errors.Is(err, domain.ErrLedgerUnknownVehicle) {
		if perr := m.ledger.Provision(ctx, vehicle.ID, vehicle.TotalUnits); perr != nil {
			return infra(perr, "provision ledger")
		}
		err = m.ledger.TryReserve(ctx, vehicle.ID)
	}
	if errors.Is(err, domain.ErrFullyBooked) {
		grown, serr := m.syncTotal(ctx, vehicle)
		if serr != nil {
			return infra(serr, "sync ledger total")
		}
		if grown {
			err = m.ledger.TryReserve(ctx, vehicle.ID)
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrFullyBooked):
		return errors.Wrapf(domain.ErrVehicleUnavailable, "vehicle %s", vehicle.ID)
	default:
		return infra(err, "reserve unit")
	}
}

// syncTotal copies the catalog unit count into the ledger when they differ and
// reports whether the ledger gained capacity. A catalog total below the units
// already reserved is left for the reconciler.
func (m *Manager) syncTotal(ctx context.Context, vehicle domain.Vehicle) (bool, error) {
	units, err := m.ledger.Units(ctx, vehicle.ID)
	if err != nil {
		return false, err
	}
	if units.TotalUnits == vehicle.TotalUnits {
		return false, nil
	}
	if err := m.ledger.Provision(ctx, vehicle.ID, vehicle.TotalUnits); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return false, nil
		}
		return false, err
	}
	m.logger.WithField("vehicle_id", vehicle.ID).
		WithField("was", units.TotalUnits).
		WithField("now", vehicle.TotalUnits).
		Info("ledger total synced from catalog")
	return vehicle.TotalUnits > units.TotalUnits, nil
}

// compensate gives back the unit taken by a Create whose write failed.
func (m *Manager) compensate(ctx context.Context, vehicleID string, cause error) {
	if err := m.ledger.Release(ctx, vehicleID); err != nil {
		observability.LedgerIntegrityErrors.WithLabelValues("compensate").Inc()
		m.logger.WithError(errors.CombineErrors(cause, err)).
			WithField("vehicle_id", vehicleID).
			Error("compensating release failed, ledger holds a unit with no reservation")
	}
}

// Pay finalizes a hold. Paying an already paid reservation returns it unchanged.
func (m *Manager) Pay(ctx context.Context, id string) (domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "booking.Pay", trace.WithAttributes(attribute.String("reservation.id", id)))
	defer span.End()

	r, err := m.get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	switch r.Status {
	case domain.StatusCancelled:
		return domain.Reservation{}, errors.Wrapf(domain.ErrBookingExpiredOrCancelled, "reservation %s", id)
	case domain.StatusPaid:
		return r, nil
	}

	t := domain.Transition{From: domain.StatusReserved, To: domain.StatusPaid, At: m.now()}
	updated, err := m.store.UpdateStatus(ctx, id, t)
	if errors.Is(err, domain.ErrConflict) {
		current, gerr := m.get(ctx, id)
		if gerr != nil {
			return domain.Reservation{}, gerr
		}
		if current.Status == domain.StatusPaid {
			return current, nil
		}
		return domain.Reservation{}, errors.Wrapf(domain.ErrBookingExpiredOrCancelled, "reservation %s", id)
	}
	if err != nil {
		return domain.Reservation{}, m.storeErr(err, id, "mark paid")
	}

	m.record(ctx, updated, t)
	m.logger.WithField("reservation_id", id).Info("reservation paid")
	return updated, nil
}

// Cancel moves a held reservation to CANCELLED and releases its unit. The
// release happens only after the status change has been stored.
func (m *Manager) Cancel(ctx context.Context, id string, reason domain.CancelReason) (domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(
		attribute.String("reservation.id", id),
		attribute.String("cancel.reason", string(reason)),
	))
	defer span.End()

	r, err := m.get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := cancellable(r.Status, id); err != nil {
		return domain.Reservation{}, err
	}

	t := domain.Transition{From: domain.StatusReserved, To: domain.StatusCancelled, Reason: reason, At: m.now()}
	updated, err := m.store.UpdateStatus(ctx, id, t)
	if errors.Is(err, domain.ErrConflict) {
		current, gerr := m.get(ctx, id)
		if gerr != nil {
			return domain.Reservation{}, gerr
		}
		if cerr := cancellable(current.Status, id); cerr != nil {
			return domain.Reservation{}, cerr
		}
		return domain.Reservation{}, infra(err, "cancel reservation")
	}
	if err != nil {
		return domain.Reservation{}, m.storeErr(err, id, "mark cancelled")
	}

	if err := m.ledger.Release(ctx, updated.VehicleID); err != nil {
		observability.LedgerIntegrityErrors.WithLabelValues("release").Inc()
		m.logger.WithError(err).
			WithField("reservation_id", id).
			WithField("vehicle_id", updated.VehicleID).
			Error("release after cancellation failed, ledger needs reconciliation")
	}

	m.record(ctx, updated, t)
	m.logger.WithField("reservation_id", id).WithField("reason", reason).Info("reservation cancelled")
	return updated, nil
}

// Expire cancels a hold whose payment window has passed.
func (m *Manager) Expire(ctx context.Context, id string) (domain.Reservation, error) {
	return m.Cancel(ctx, id, domain.ReasonTimeout)
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return m.get(ctx, id)
}

// ListForHolder returns the holder's reservations, newest first.
func (m *Manager) ListForHolder(ctx context.Context, holderID string) ([]domain.Reservation, error) {
	if holderID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "holder id is required")
	}
	list, err := m.store.ListByHolder(ctx, holderID)
	if err != nil {
		return nil, infra(err, "list reservations")
	}
	return list, nil
}

func (m *Manager) get(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, m.storeErr(err, id, "get reservation")
	}
	return r, nil
}

func (m *Manager) storeErr(err error, id, op string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
	}
	return infra(err, op)
}

func (m *Manager) record(ctx context.Context, r domain.Reservation, t domain.Transition) {
	observability.Transitions.WithLabelValues(string(t.To), string(t.Reason)).Inc()
	if err := m.audit.Record(ctx, r, t); err != nil {
		m.logger.WithError(err).WithField("reservation_id", r.ID).Warn("audit record failed")
	}
}

func cancellable(s domain.Status, id string) error {
	if !s.Terminal() {
		return nil
	}
	switch s {
	case domain.StatusCancelled:
		return errors.Wrapf(domain.ErrAlreadyCancelled, "reservation %s", id)
	case domain.StatusPaid:
		return errors.Wrapf(domain.ErrCannotCancelPaidBooking, "reservation %s", id)
	}
	return nil
}

// infra hides store and ledger errors behind domain.ErrInfrastructure.
func infra(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), domain.ErrInfrastructure)
}
