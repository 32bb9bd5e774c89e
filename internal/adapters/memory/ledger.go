// Package memory holds in-process implementations of the booking ports.
package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

type vehicleUnits struct {
	mu       sync.Mutex
	total    int
	reserved int
}

// Ledger keeps one mutex per vehicle so that operations on different vehicles
// never contend. The outer lock only guards the map itself.
type Ledger struct {
	mu    sync.RWMutex
	units map[string]*vehicleUnits
}

func NewLedger() *Ledger {
	return &Ledger{units: make(map[string]*vehicleUnits)}
}

func (l *Ledger) entry(vehicleID string) (*vehicleUnits, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.units[vehicleID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrLedgerUnknownVehicle, "vehicle %s", vehicleID)
	}
	return u, nil
}

func (l *Ledger) TryReserve(_ context.Context, vehicleID string) error {
	u, err := l.entry(vehicleID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.reserved >= u.total {
		return domain.ErrFullyBooked
	}
	u.reserved++
	return nil
}

func (l *Ledger) Release(_ context.Context, vehicleID string) error {
	u, err := l.entry(vehicleID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.reserved == 0 {
		return errors.Wrapf(domain.ErrAlreadyAtZero, "vehicle %s", vehicleID)
	}
	u.reserved--
	return nil
}

func (l *Ledger) Provision(_ context.Context, vehicleID string, totalUnits int) error {
	if totalUnits < 1 {
		return errors.Wrapf(domain.ErrInvalidInput, "total units %d", totalUnits)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.units[vehicleID]
	if !ok {
		l.units[vehicleID] = &vehicleUnits{total: totalUnits}
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if totalUnits < u.reserved {
		return errors.Wrapf(domain.ErrInvalidInput, "total units %d below %d reserved", totalUnits, u.reserved)
	}
	u.total = totalUnits
	return nil
}

func (l *Ledger) Units(_ context.Context, vehicleID string) (domain.Units, error) {
	u, err := l.entry(vehicleID)
	if err != nil {
		return domain.Units{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return domain.Units{VehicleID: vehicleID, TotalUnits: u.total, ReservedUnits: u.reserved}, nil
}

func (l *Ledger) Restore(_ context.Context, vehicleID string, reservedUnits int) error {
	u, err := l.entry(vehicleID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if reservedUnits < 0 || reservedUnits > u.total {
		return errors.Wrapf(domain.ErrInvalidInput, "reserved units %d outside [0, %d]", reservedUnits, u.total)
	}
	u.reserved = reservedUnits
	return nil
}
