package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/shopspring/decimal"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"

	maxTxAttempts = 3
)

const reservationColumns = `id, holder_id, vehicle_id, start_date, end_date, start_time, end_time,
	rent_amount::STRING, status, cancel_reason, expires_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a SERIALIZABLE transaction, retrying on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	started := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(started).Seconds()) }()

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if pgCode(err) == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if pgCode(err) == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, res domain.Reservation) (string, error) {
	event, err := reservationEvent(res, EventReservationCreated)
	if err != nil {
		return "", err
	}

	var startTime, endTime *string
	if res.Times != nil {
		startTime, endTime = &res.Times.Start, &res.Times.End
	}

	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, holder_id, vehicle_id, start_date, end_date, start_time, end_time,
				rent_amount, status, cancel_reason, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::DECIMAL, $9, $10, $11, $12, $13)
		`, res.ID, res.HolderID, res.VehicleID, res.Dates.Start, res.Dates.End, startTime, endTime,
			res.RentAmount.StringFixed(2), string(res.Status), string(res.CancelReason), res.ExpiresAt, res.CreatedAt, res.UpdatedAt)
		if err != nil {
			if pgCode(err) == UniqueViolationCode {
				return errors.Wrapf(domain.ErrDuplicateID, "reservation %s", res.ID)
			}
			return err
		}
		return r.InsertOutbox(ctx, tx, event)
	})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return res, err
}

func (r *Repository) FindExpiredReserved(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations@reservations_status_expires_idx
		WHERE status = 'RESERVED' AND expires_at < $1
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// UpdateStatus applies t only if the stored status still equals t.From. The
// outbox row for the transition is written in the same transaction.
func (r *Repository) UpdateStatus(ctx context.Context, id string, t domain.Transition) (domain.Reservation, error) {
	var updated domain.Reservation
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE reservations
			SET status = $3,
				cancel_reason = $4,
				expires_at = CASE WHEN $5 THEN NULL ELSE expires_at END,
				updated_at = $6
			WHERE id = $1 AND status = $2
			RETURNING `+reservationColumns,
			id, string(t.From), string(t.To), string(t.Reason), t.To != domain.StatusReserved, t.At)
		var err error
		updated, err = scanReservation(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var current string
			lookupErr := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1`, id).Scan(&current)
			if errors.Is(lookupErr, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			if lookupErr != nil {
				return lookupErr
			}
			return errors.Wrapf(domain.ErrConflict, "reservation %s is %s", id, current)
		}
		if err != nil {
			return err
		}

		event, err := reservationEvent(updated, eventForStatus(t.To))
		if err != nil {
			return err
		}
		return r.InsertOutbox(ctx, tx, event)
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return updated, nil
}

func (r *Repository) ListByHolder(ctx context.Context, holderID string) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations WHERE holder_id = $1
		ORDER BY created_at DESC, id DESC
	`, holderID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (r *Repository) CountHolding(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT vehicle_id, count(*) FROM reservations
		WHERE status IN ('RESERVED', 'PAID')
		GROUP BY vehicle_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var vehicleID string
		var n int
		if err := rows.Scan(&vehicleID, &n); err != nil {
			return nil, err
		}
		counts[vehicleID] = n
	}
	return counts, rows.Err()
}

func collectReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var (
		res                domain.Reservation
		startTime, endTime *string
		rent               string
		status, reason     string
	)
	err := row.Scan(&res.ID, &res.HolderID, &res.VehicleID, &res.Dates.Start, &res.Dates.End, &startTime, &endTime,
		&rent, &status, &reason, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return domain.Reservation{}, err
	}

	res.RentAmount, err = decimal.NewFromString(rent)
	if err != nil {
		return domain.Reservation{}, errors.Wrapf(err, "reservation %s rent amount", res.ID)
	}
	res.Status = domain.Status(status)
	res.CancelReason = domain.CancelReason(reason)
	if startTime != nil && endTime != nil {
		res.Times = &domain.TimeRange{Start: *startTime, End: *endTime}
	}
	return res, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
