package domain

import "github.com/cockroachdb/errors"

// Errors returned by the lifecycle manager.
var (
	ErrInvalidDateRange = errors.New("end date must be after start date")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthenticated  = errors.New("unauthenticated")

	ErrVehicleUnavailable = errors.New("vehicle is currently unavailable")

	ErrNotFound        = errors.New("not found")
	ErrVehicleNotFound = errors.New("vehicle not found")

	ErrBookingExpiredOrCancelled = errors.New("booking has expired or been cancelled")
	ErrCannotCancelPaidBooking   = errors.New("paid booking cannot be cancelled")
	ErrAlreadyCancelled          = errors.New("booking is already cancelled")

	ErrIntegrity      = errors.New("integrity violation")
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Errors returned by stores and ledgers. They do not leave the booking package.
var (
	ErrConflict             = errors.New("conflict")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrDuplicateID          = errors.New("duplicate reservation id")
	ErrFullyBooked          = errors.New("fully booked")
	ErrLedgerUnknownVehicle = errors.New("vehicle not provisioned in ledger")
	ErrAlreadyAtZero        = errors.Mark(errors.New("reserved units already at zero"), ErrIntegrity)
)

type Kind int

const (
	KindInfrastructure Kind = iota
	KindValidation
	KindUnauthenticated
	KindNotFound
	KindCapacity
	KindStateConflict
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindCapacity:
		return "capacity"
	case KindStateConflict:
		return "state_conflict"
	case KindIntegrity:
		return "integrity"
	default:
		return "infrastructure"
	}
}

// KindOf classifies err into the error taxonomy.
func KindOf(err error) Kind {
	switch {
	case errors.IsAny(err, ErrInvalidDateRange, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.IsAny(err, ErrNotFound, ErrVehicleNotFound):
		return KindNotFound
	case errors.Is(err, ErrVehicleUnavailable):
		return KindCapacity
	case errors.IsAny(err, ErrBookingExpiredOrCancelled, ErrCannotCancelPaidBooking, ErrAlreadyCancelled):
		return KindStateConflict
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	default:
		return KindInfrastructure
	}
}

// Code is the stable machine-readable name of a taxonomy error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDateRange):
		return "invalid_date_range"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrVehicleUnavailable):
		return "vehicle_unavailable"
	case errors.Is(err, ErrVehicleNotFound):
		return "vehicle_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBookingExpiredOrCancelled):
		return "booking_expired_or_cancelled"
	case errors.Is(err, ErrCannotCancelPaidBooking):
		return "cannot_cancel_paid_booking"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	default:
		return "internal"
	}
}
