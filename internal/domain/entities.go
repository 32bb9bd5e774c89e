package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusReserved  Status = "RESERVED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

type CancelReason string

const (
	ReasonNone    CancelReason = ""
	ReasonManual  CancelReason = "MANUAL"
	ReasonTimeout CancelReason = "TIMEOUT"
)

// Vehicle is the catalog view of a fleet model.
type Vehicle struct {
	ID         string
	Name       string
	Type       string
	DailyRate  decimal.Decimal
	TotalUnits int
}

// Units is the ledger record for one vehicle.
type Units struct {
	VehicleID     string
	TotalUnits    int
	ReservedUnits int
}

const secondsPerDay = 24 * 60 * 60

type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of whole calendar days between Start and End.
func (d DateRange) Days() int {
	return int(epochDay(d.End) - epochDay(d.Start))
}

func (d DateRange) Valid() bool {
	return truncateDay(d.End).After(truncateDay(d.Start))
}

// epochDay counts UTC calendar days since 1970-01-01 without going through
// time.Duration, which overflows past about 292 years.
func epochDay(t time.Time) int64 {
	return truncateDay(t).Unix() / secondsPerDay
}

func truncateDay(t time.Time) time.Time {
	y, m, day := t.UTC().Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// TimeRange holds advisory pick-up and drop-off clock times ("HH:MM").
type TimeRange struct {
	Start string
	End   string
}

type Reservation struct {
	ID           string
	HolderID     string
	VehicleID    string
	Dates        DateRange
	Times        *TimeRange
	RentAmount   decimal.Decimal
	Status       Status
	CancelReason CancelReason
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition is a compare-and-swap request against a stored reservation.
type Transition struct {
	From   Status
	To     Status
	Reason CancelReason
	At     time.Time
}
