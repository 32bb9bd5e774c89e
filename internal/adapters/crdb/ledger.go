package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

// Ledger keeps unit counters in vehicle_inventory. Every mutation is a single
// conditional UPDATE, so the row lock serializes concurrent callers.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) TryReserve(ctx context.Context, vehicleID string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE vehicle_inventory SET reserved_units = reserved_units + 1
		WHERE vehicle_id = $1 AND reserved_units < total_units
	`, vehicleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := l.Units(ctx, vehicleID); err != nil {
		return err
	}
	return domain.ErrFullyBooked
}

func (l *Ledger) Release(ctx context.Context, vehicleID string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE vehicle_inventory SET reserved_units = reserved_units - 1
		WHERE vehicle_id = $1 AND reserved_units > 0
	`, vehicleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := l.Units(ctx, vehicleID); err != nil {
		return err
	}
	return errors.Wrapf(domain.ErrAlreadyAtZero, "vehicle %s", vehicleID)
}

func (l *Ledger) Provision(ctx context.Context, vehicleID string, totalUnits int) error {
	if totalUnits < 1 {
		return errors.Wrapf(domain.ErrInvalidInput, "total units %d", totalUnits)
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO vehicle_inventory (vehicle_id, total_units, reserved_units)
		VALUES ($1, $2, 0)
		ON CONFLICT (vehicle_id) DO UPDATE SET total_units = excluded.total_units
	`, vehicleID, totalUnits)
	if pgCode(err) == CheckViolationCode {
		return errors.Wrapf(domain.ErrInvalidInput, "total units %d below reserved units of %s", totalUnits, vehicleID)
	}
	return err
}

func (l *Ledger) Units(ctx context.Context, vehicleID string) (domain.Units, error) {
	u := domain.Units{VehicleID: vehicleID}
	err := l.pool.QueryRow(ctx, `
		SELECT total_units, reserved_units FROM vehicle_inventory WHERE vehicle_id = $1
	`, vehicleID).Scan(&u.TotalUnits, &u.ReservedUnits)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Units{}, errors.Wrapf(domain.ErrLedgerUnknownVehicle, "vehicle %s", vehicleID)
	}
	if err != nil {
		return domain.Units{}, err
	}
	return u, nil
}

func (l *Ledger) Restore(ctx context.Context, vehicleID string, reservedUnits int) error {
	if reservedUnits < 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "reserved units %d", reservedUnits)
	}
	tag, err := l.pool.Exec(ctx, `
		UPDATE vehicle_inventory SET reserved_units = $2 WHERE vehicle_id = $1
	`, vehicleID, reservedUnits)
	if pgCode(err) == CheckViolationCode {
		return errors.Wrapf(domain.ErrInvalidInput, "reserved units %d exceed total of %s", reservedUnits, vehicleID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrLedgerUnknownVehicle, "vehicle %s", vehicleID)
	}
	return nil
}
