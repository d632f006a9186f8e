// Package audit keeps an append-only log of booking status changes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action names a booking lifecycle event.
type Action string

const (
	ActionCreated   Action = "booking.created"
	ActionConfirmed Action = "booking.confirmed"
	ActionCancelled Action = "booking.cancelled"
	ActionCompleted Action = "booking.completed"
	ActionExpired   Action = "booking.expired"
)

// Event is one immutable audit record.
type Event struct {
	ID         string          `json:"id"`
	BookingID  string          `json:"booking_id"`
	Action     Action          `json:"action"`
	FromStatus string          `json:"from_status,omitempty"`
	ToStatus   string          `json:"to_status"`
	Actor      string          `json:"actor,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store writes events to booking_events.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends an event.
func (s *Store) Record(ctx context.Context, event Event) error {
	if event.BookingID == "" {
		return fmt.Errorf("audit: booking id required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO booking_events (
			id, booking_id, action, from_status, to_status, actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.BookingID,
		string(event.Action),
		nullString(event.FromStatus),
		event.ToStatus,
		nullString(event.Actor),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", event.Action, err)
	}
	return nil
}

// ListForBookings returns events for the given bookings, oldest first.
func (s *Store) ListForBookings(ctx context.Context, bookingIDs []string) ([]Event, error) {
	if len(bookingIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, booking_id, action, COALESCE(from_status, ''), to_status,
			COALESCE(actor, ''), details, created_at
		FROM booking_events
		WHERE booking_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(bookingIDs))
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &action, &e.FromStatus, &e.ToStatus, &e.Actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Action = Action(action)
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}

// CountByAction tallies events per action since the given time.
func (s *Store) CountByAction(ctx context.Context, since time.Time, actions []Action) (map[Action]int, error) {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	query := `
		SELECT action, COUNT(*)
		FROM booking_events
		WHERE created_at >= $1 AND action = ANY($2)
		GROUP BY action
	`
	rows, err := s.db.QueryContext(ctx, query, since, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("audit: count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Action]int, len(actions))
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("audit: scan count: %w", err)
		}
		counts[Action(action)] = n
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
