// Package booking implements the reservation lifecycle: holds, payment,
// cancellation, timed expiration and inventory repair.
package booking

import (
	"context"
	"time"

	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

// Ledger is the per-vehicle reserved/total unit counter.
//
// TryReserve and Release must be linearizable per vehicle. TryReserve returns
// domain.ErrFullyBooked when no unit is left, Release returns
// domain.ErrAlreadyAtZero instead of going negative. Both return
// domain.ErrLedgerUnknownVehicle until the vehicle has been provisioned.
type Ledger interface {
	TryReserve(ctx context.Context, vehicleID string) error
	Release(ctx context.Context, vehicleID string) error
	Provision(ctx context.Context, vehicleID string, totalUnits int) error
	Units(ctx context.Context, vehicleID string) (domain.Units, error)
	Restore(ctx context.Context, vehicleID string, reservedUnits int) error
}

// Store persists reservations. UpdateStatus is a compare-and-swap on status and
// returns domain.ErrConflict when the stored status is not t.From.
type Store interface {
	Create(ctx context.Context, r domain.Reservation) (string, error)
	Get(ctx context.Context, id string) (domain.Reservation, error)
	FindExpiredReserved(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	UpdateStatus(ctx context.Context, id string, t domain.Transition) (domain.Reservation, error)
	ListByHolder(ctx context.Context, holderID string) ([]domain.Reservation, error)
	CountHolding(ctx context.Context) (map[string]int, error)
}

type Catalog interface {
	GetVehicle(ctx context.Context, vehicleID string) (domain.Vehicle, error)
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)
}

// Auditor records lifecycle transitions. Creation is recorded with an empty From.
type Auditor interface {
	Record(ctx context.Context, r domain.Reservation, t domain.Transition) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, domain.Reservation, domain.Transition) error { return nil }
