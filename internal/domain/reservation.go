package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	reservationIDPrefix = "BR-"
	reservationIDLength = 6
	reservationIDChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewReservationID returns a short human-legible code such as BR-7QK2ZD.
func NewReservationID() string {
	raw := uuid.New()
	var b strings.Builder
	b.WriteString(reservationIDPrefix)
	for i := 0; i < reservationIDLength; i++ {
		b.WriteByte(reservationIDChars[int(raw[i])%len(reservationIDChars)])
	}
	return b.String()
}

func NewReservation(holderID, vehicleID string, dates DateRange, times *TimeRange, rent decimal.Decimal, now time.Time, hold time.Duration) Reservation {
	expiresAt := now.Add(hold)
	return Reservation{
		ID:         NewReservationID(),
		HolderID:   holderID,
		VehicleID:  vehicleID,
		Dates:      dates,
		Times:      times,
		RentAmount: rent,
		Status:     StatusReserved,
		ExpiresAt:  &expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsExpired reports whether a held reservation is past its payment window.
func (r Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusReserved && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Apply returns r after the transition t has been applied.
func (r Reservation) Apply(t Transition) Reservation {
	r.Status = t.To
	r.UpdatedAt = t.At
	if t.To != StatusReserved {
		r.ExpiresAt = nil
	}
	if t.To == StatusCancelled {
		r.CancelReason = t.Reason
	}
	return r
}
