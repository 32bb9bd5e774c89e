package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID            string    `bson:"_id"`
	Action        string    `bson:"action"`
	ReservationID string    `bson:"reservation_id"`
	HolderID      string    `bson:"holder_id"`
	Timestamp     time.Time `bson:"timestamp"`
	Data          bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, reservationID, holderID string, at time.Time, data bson.M) error {
	log := AuditLog{
		ID:            uuid.NewString(),
		Action:        action,
		ReservationID: reservationID,
		HolderID:      holderID,
		Timestamp:     at,
		Data:          data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

// Record implements the booking auditor. Creation arrives with an empty From.
func (a *AuditLogger) Record(ctx context.Context, r domain.Reservation, t domain.Transition) error {
	data := bson.M{
		"vehicle_id":  r.VehicleID,
		"from":        string(t.From),
		"to":          string(t.To),
		"rent_amount": r.RentAmount.StringFixed(2),
	}
	if t.Reason != domain.ReasonNone {
		data["reason"] = string(t.Reason)
	}
	if r.ExpiresAt != nil {
		data["expires_at"] = r.ExpiresAt.Format(time.RFC3339)
	}
	return a.LogEvent(ctx, auditAction(t), r.ID, r.HolderID, t.At, data)
}

func auditAction(t domain.Transition) string {
	switch {
	case t.From == "":
		return "reservation.created"
	case t.To == domain.StatusPaid:
		return "reservation.paid"
	case t.Reason == domain.ReasonTimeout:
		return "reservation.expired"
	default:
		return "reservation.cancelled"
	}
}

// History returns the audit trail of one reservation, oldest first.
func (a *AuditLogger) History(ctx context.Context, reservationID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"reservation_id": reservationID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
