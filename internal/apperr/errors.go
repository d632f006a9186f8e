// Package apperr defines the error classes shared across booking and
// conversation flows.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfman30/salon-concierge/internal/calendar"
)

var (
	// ErrInvalidInput marks missing or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown service, staff, customer or booking.
	ErrNotFound = errors.New("not found")

	// ErrSlotConflict is returned when a slot was claimed by another booking.
	ErrSlotConflict = errors.New("slot no longer available")

	// ErrClosedDay is returned for dates that fall on a closed weekday.
	ErrClosedDay = errors.New("business closed on requested day")

	// ErrStale marks an offer that no longer matches the session's date.
	ErrStale = errors.New("offer is stale")

	// ErrSystemFailure wraps storage or collaborator failures.
	ErrSystemFailure = errors.New("system failure")
)

// Invalid builds an ErrInvalidInput with a caller-facing reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// System wraps err as a SystemFailure while keeping the cause inspectable.
func System(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSystemFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSystemFailure, err)
}

// Wrap annotates err with op. Errors that already belong to a caller-facing
// class keep it; anything else becomes a SystemFailure.
func Wrap(op string, err error) error {
	switch Kind(err) {
	case "ok":
		return nil
	case "invalid_input", "not_found", "slot_conflict", "closed_day", "stale":
		return fmt.Errorf("%s: %w", op, err)
	default:
		return System(op, err)
	}
}

// SlotConflictError carries the slot that lost the race.
type SlotConflictError struct {
	StaffID int64
	Date    time.Time
	Time    calendar.Clock
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot no longer available: staff %d on %s at %s", e.StaffID, calendar.FormatDate(e.Date), e.Time)
}

// Is lets errors.Is(err, ErrSlotConflict) match.
func (e *SlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// ClosedDayError carries the rejected date.
type ClosedDayError struct {
	Date time.Time
}

func (e *ClosedDayError) Error() string {
	return fmt.Sprintf("business closed on %s (%s)", calendar.FormatDate(e.Date), e.Date.Weekday())
}

// Is lets errors.Is(err, ErrClosedDay) match.
func (e *ClosedDayError) Is(target error) bool {
	return target == ErrClosedDay
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Kind names the error class for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrClosedDay):
		return "closed_day"
	case errors.Is(err, ErrStale):
		return "stale"
	case IsTimeout(err):
		return "timeout"
	default:
		return "system_failure"
	}
}

// HTTPStatus maps an error class onto a response status.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "ok":
		return http.StatusOK
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "slot_conflict", "stale":
		return http.StatusConflict
	case "closed_day":
		return http.StatusUnprocessableEntity
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
