// Package session holds per-conversation state between turns.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
)

// Stage is the conversation's position in the booking dialogue.
type Stage string

const (
	StageGreeting             Stage = "greeting"
	StageChoosingService      Stage = "choosing_service"
	StagePickingSlot          Stage = "picking_slot"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageEnded                Stage = "ended"
)

// Offer is one numbered slot shown to the user.
type Offer struct {
	Ordinal   string         `json:"ordinal"`
	StaffID   int64          `json:"staff_id"`
	StaffName string         `json:"staff_name"`
	ServiceID int64          `json:"service_id"`
	Date      string         `json:"date"`
	Time      calendar.Clock `json:"time"`
}

// Label renders the offer as "{staff} {time}".
func (o Offer) Label() string {
	return fmt.Sprintf("%s %s", o.StaffName, o.Time)
}

// Draft is the selection handed to the booking collaborator once the user
// has picked a slot.
type Draft struct {
	Reference   string              `json:"reference"`
	ServiceType catalog.ServiceType `json:"service_type"`
	ServiceID   int64               `json:"service_id"`
	StaffID     int64               `json:"staff_id"`
	StaffName   string              `json:"staff_name"`
	Date        string              `json:"date"`
	Time        calendar.Clock      `json:"time"`
	Link        string              `json:"link"`
}

// Session is the state of one conversation.
type Session struct {
	Key           string                    `json:"key"`
	Stage         Stage                     `json:"stage"`
	ServiceType   catalog.ServiceType       `json:"service_type,omitempty"`
	RequestedDate string                    `json:"requested_date,omitempty"`
	Offers        []Offer                   `json:"offers,omitempty"`
	Snapshot      []availability.StaffSlots `json:"snapshot,omitempty"`
	Draft         *Draft                    `json:"draft,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// New starts a session in the greeting stage.
func New(key string, now time.Time) *Session {
	return &Session{Key: key, Stage: StageGreeting, CreatedAt: now, UpdatedAt: now}
}

// Reset clears everything but the key and creation time.
func (s *Session) Reset() {
	*s = Session{Key: s.Key, Stage: StageGreeting, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Offers = append([]Offer(nil), s.Offers...)
	if s.Snapshot != nil {
		out.Snapshot = make([]availability.StaffSlots, len(s.Snapshot))
		for i, slots := range s.Snapshot {
			slots.Open = append([]calendar.Clock(nil), slots.Open...)
			slots.Taken = append([]calendar.Clock(nil), slots.Taken...)
			out.Snapshot[i] = slots
		}
	}
	if s.Draft != nil {
		d := *s.Draft
		out.Draft = &d
	}
	return &out
}

// Offer looks up an offer by ordinal.
func (s *Session) Offer(ordinal string) (Offer, bool) {
	for _, o := range s.Offers {
		if o.Ordinal == ordinal {
			return o, true
		}
	}
	return Offer{}, false
}

// LastOffer returns the highest-numbered offer.
func (s *Session) LastOffer() (Offer, bool) {
	if len(s.Offers) == 0 {
		return Offer{}, false
	}
	return s.Offers[len(s.Offers)-1], true
}

// SlotState checks a slot against the cached availability snapshot.
func (s *Session) SlotState(staffID, serviceID int64, at calendar.Clock) availability.SlotState {
	day := availability.DayAvailability{Staff: s.Snapshot}
	return day.State(staffID, serviceID, at)
}

// Store persists sessions. Get returns nil, nil for unknown keys. Sweep
// removes sessions idle since before cutoff and reports how many went.
type Store interface {
	Get(ctx context.Context, key string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
