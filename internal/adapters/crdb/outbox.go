package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationPaid      = "reservation.paid"
	EventReservationCancelled = "reservation.cancelled"

	aggregateReservation = "reservation"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

// ReservationEvent is the payload published for every reservation transition.
type ReservationEvent struct {
	ReservationID string     `json:"reservation_id"`
	HolderID      string     `json:"holder_id"`
	VehicleID     string     `json:"vehicle_id"`
	Status        string     `json:"status"`
	CancelReason  string     `json:"cancel_reason,omitempty"`
	RentAmount    string     `json:"rent_amount"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func reservationEvent(res domain.Reservation, eventType string) (OutboxRecord, error) {
	payload, err := json.Marshal(ReservationEvent{
		ReservationID: res.ID,
		HolderID:      res.HolderID,
		VehicleID:     res.VehicleID,
		Status:        string(res.Status),
		CancelReason:  string(res.CancelReason),
		RentAmount:    res.RentAmount.StringFixed(2),
		ExpiresAt:     res.ExpiresAt,
		OccurredAt:    res.UpdatedAt,
	})
	if err != nil {
		return OutboxRecord{}, err
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateReservation,
		AggregateID:   res.ID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     res.ID + ":" + eventType,
	}, nil
}

func eventForStatus(s domain.Status) string {
	switch s {
	case domain.StatusPaid:
		return EventReservationPaid
	case domain.StatusCancelled:
		return EventReservationCancelled
	default:
		return EventReservationCreated
	}
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// ClaimOutbox locks up to limit unpublished records for the lifetime of tx.
func (r *Repository) ClaimOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}
