// Package bookings commits appointments and drives their status lifecycle.
package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
)

// Status is a booking's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ActiveStatuses hold their slot.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// Active reports whether a booking in this status occupies its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// transitions lists the statuses each target may be reached from.
var transitions = map[Status][]Status{
	StatusConfirmed: {StatusPending},
	StatusCancelled: {StatusPending, StatusConfirmed},
	StatusCompleted: {StatusConfirmed},
	StatusExpired:   {StatusPending},
}

// AllowedFrom returns the statuses that may move to target.
func AllowedFrom(target Status) []Status {
	return transitions[target]
}

// ErrSlotTaken is returned by repositories when an active booking already
// holds the (staff, date, time) triple.
var ErrSlotTaken = errors.New("bookings: slot taken")

// ErrTransition is returned by repositories when the booking exists but is
// not in one of the expected statuses.
var ErrTransition = errors.New("bookings: status transition not allowed")

// Booking is a committed appointment.
type Booking struct {
	ID          uuid.UUID
	CustomerID  int64
	ServiceType catalog.ServiceType
	ServiceID   int64
	StaffID     int64
	Date        time.Time
	Time        calendar.Clock
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StartsAt returns the appointment start in the date's location.
func (b *Booking) StartsAt() time.Time {
	return calendar.At(b.Date, b.Time)
}

// Repository persists bookings. Create must be atomic with respect to the
// active-slot uniqueness check.
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	OccupiedTimes(ctx context.Context, staffID int64, date time.Time) ([]calendar.Clock, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, at time.Time) (*Booking, error)
	ExpirePending(ctx context.Context, createdBefore, at time.Time) ([]uuid.UUID, error)
}
