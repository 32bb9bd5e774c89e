package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewReservationID_Format(t *testing.T) {
	re := regexp.MustCompile(`^BR-[A-Z0-9]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id := NewReservationID()
		assert.Regexp(t, re, id)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}

func TestDateRange_Days(t *testing.T) {
	tests := []struct {
		name  string
		dates DateRange
		days  int
		valid bool
	}{
		{"three days", DateRange{day("2026-03-01"), day("2026-03-04")}, 3, true},
		{"single day", DateRange{day("2026-03-01"), day("2026-03-02")}, 1, true},
		{"same day", DateRange{day("2026-03-01"), day("2026-03-01")}, 0, false},
		{"reversed", DateRange{day("2026-03-05"), day("2026-03-01")}, -4, false},
		{"time of day ignored", DateRange{day("2026-03-01").Add(20 * time.Hour), day("2026-03-02").Add(time.Hour)}, 1, true},
		{"across leap day", DateRange{day("2028-02-27"), day("2028-03-02")}, 4, true},
		{"three centuries", DateRange{day("2026-04-10"), day("2326-04-10")}, 109572, true},
		{"before epoch", DateRange{day("1969-12-30"), day("1970-01-02")}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.days, tt.dates.Days())
			assert.Equal(t, tt.valid, tt.dates.Valid())
		})
	}
}

func TestNewReservation_HoldsUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewReservation("holder-1", "car-1", DateRange{day("2026-03-01"), day("2026-03-04")}, nil, decimal.NewFromInt(300), now, 30*time.Second)

	assert.Equal(t, StatusReserved, r.Status)
	require.NotNil(t, r.ExpiresAt)
	assert.Equal(t, now.Add(30*time.Second), *r.ExpiresAt)
	assert.False(t, r.IsExpired(now.Add(30*time.Second)))
	assert.True(t, r.IsExpired(now.Add(31*time.Second)))
}

func TestReservation_Apply(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewReservation("holder-1", "car-1", DateRange{day("2026-03-01"), day("2026-03-04")}, nil, decimal.NewFromInt(300), now, time.Minute)

	paid := r.Apply(Transition{From: StatusReserved, To: StatusPaid, At: now.Add(time.Second)})
	assert.Equal(t, StatusPaid, paid.Status)
	assert.Nil(t, paid.ExpiresAt)
	assert.Equal(t, ReasonNone, paid.CancelReason)
	assert.NotNil(t, r.ExpiresAt, "original value must be untouched")

	cancelled := r.Apply(Transition{From: StatusReserved, To: StatusCancelled, Reason: ReasonTimeout, At: now.Add(time.Minute)})
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, ReasonTimeout, cancelled.CancelReason)
	assert.Nil(t, cancelled.ExpiresAt)
	assert.True(t, cancelled.Status.Terminal())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		code string
	}{
		{errors.Wrap(ErrInvalidDateRange, "create"), KindValidation, "invalid_date_range"},
		{ErrUnauthenticated, KindUnauthenticated, "unauthenticated"},
		{errors.Wrapf(ErrVehicleNotFound, "vehicle %s", "car-1"), KindNotFound, "vehicle_not_found"},
		{ErrNotFound, KindNotFound, "not_found"},
		{ErrVehicleUnavailable, KindCapacity, "vehicle_unavailable"},
		{ErrCannotCancelPaidBooking, KindStateConflict, "cannot_cancel_paid_booking"},
		{ErrAlreadyCancelled, KindStateConflict, "already_cancelled"},
		{ErrBookingExpiredOrCancelled, KindStateConflict, "booking_expired_or_cancelled"},
		{errors.Wrap(ErrAlreadyAtZero, "release"), KindIntegrity, "internal"},
		{errors.New("connection refused"), KindInfrastructure, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}
