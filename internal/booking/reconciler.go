package booking

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

type HoldingCounter interface {
	CountHolding(ctx context.Context) (map[string]int, error)
}

// Correction records one vehicle whose ledger was rewritten. Total fields
// change when the catalog unit count moved since the ledger was provisioned.
type Correction struct {
	VehicleID string
	Was       int
	Now       int
	TotalWas  int
	TotalNow  int
}

// Reconciler rewrites ledger counters from the reservations that actually hold
// inventory (RESERVED and PAID) and ledger totals from the catalog. It is idempotent but assumes no concurrent
// creates or cancels while it runs.
type Reconciler struct {
	store   HoldingCounter
	ledger  Ledger
	catalog Catalog
	logger  observability.Logger
}

func NewReconciler(store HoldingCounter, ledger Ledger, catalog Catalog, logger observability.Logger) *Reconciler {
	return &Reconciler{store: store, ledger: ledger, catalog: catalog, logger: logger}
}

func (r *Reconciler) Run(ctx context.Context) ([]Correction, error) {
	holding, err := r.store.CountHolding(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count holding reservations")
	}
	vehicles, err := r.catalog.ListVehicles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list vehicles")
	}

	totals := make(map[string]int, len(vehicles))
	for _, v := range vehicles {
		totals[v.ID] = v.TotalUnits
	}
	ids := make([]string, 0, len(totals)+len(holding))
	for id := range totals {
		ids = append(ids, id)
	}
	for id := range holding {
		if _, ok := totals[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var corrections []Correction
	var errs error
	for _, id := range ids {
		c, err := r.reconcile(ctx, id, holding[id], totals)
		if err != nil {
			observability.LedgerIntegrityErrors.WithLabelValues("reconcile").Inc()
			r.logger.WithError(err).WithField("vehicle_id", id).Error("ledger reconciliation failed")
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if c != nil {
			corrections = append(corrections, *c)
		}
	}
	return corrections, errs
}

func (r *Reconciler) reconcile(ctx context.Context, vehicleID string, want int, totals map[string]int) (*Correction, error) {
	units, err := r.ledger.Units(ctx, vehicleID)
	if errors.Is(err, domain.ErrLedgerUnknownVehicle) {
		total, known := totals[vehicleID]
		if !known {
			return nil, errors.Wrapf(domain.ErrIntegrity, "%d holding reservations for vehicle %s missing from catalog", want, vehicleID)
		}
		if err := r.ledger.Provision(ctx, vehicleID, total); err != nil {
			return nil, errors.Wrap(err, "provision ledger")
		}
		units = domain.Units{VehicleID: vehicleID, TotalUnits: total}
	} else if err != nil {
		return nil, errors.Wrap(err, "read ledger")
	}

	total, known := totals[vehicleID]
	if !known {
		total = units.TotalUnits
	}
	if units.ReservedUnits == want && units.TotalUnits == total {
		return nil, nil
	}

	// Restore is capped by the ledger total and Provision by the reserved count.
	if want <= units.TotalUnits {
		if err := r.restore(ctx, vehicleID, units.ReservedUnits, want); err != nil {
			return nil, err
		}
		if err := r.provision(ctx, vehicleID, units.TotalUnits, total); err != nil {
			return nil, err
		}
	} else {
		if err := r.provision(ctx, vehicleID, units.TotalUnits, total); err != nil {
			return nil, err
		}
		if err := r.restore(ctx, vehicleID, units.ReservedUnits, want); err != nil {
			return nil, err
		}
	}

	observability.LedgerCorrections.Inc()
	r.logger.WithField("vehicle_id", vehicleID).
		WithField("was", units.ReservedUnits).
		WithField("now", want).
		WithField("total_was", units.TotalUnits).
		WithField("total_now", total).
		Warn("ledger corrected")
	return &Correction{
		VehicleID: vehicleID,
		Was:       units.ReservedUnits,
		Now:       want,
		TotalWas:  units.TotalUnits,
		TotalNow:  total,
	}, nil
}

func (r *Reconciler) restore(ctx context.Context, vehicleID string, was, want int) error {
	if was == want {
		return nil
	}
	if err := r.ledger.Restore(ctx, vehicleID, want); err != nil {
		return errors.Wrapf(err, "restore %d reserved units", want)
	}
	return nil
}

func (r *Reconciler) provision(ctx context.Context, vehicleID string, was, total int) error {
	if was == total {
		return nil
	}
	if err := r.ledger.Provision(ctx, vehicleID, total); err != nil {
		return errors.Wrapf(err, "provision %d total units", total)
	}
	return nil
}
