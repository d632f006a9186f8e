package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
)

type slotKey struct {
	staffID int64
	date    string
	time    calendar.Clock
}

func keyOf(b *Booking) slotKey {
	return slotKey{staffID: b.StaffID, date: calendar.FormatDate(b.Date), time: b.Time}
}

// InMemoryRepository keeps bookings in process memory.
type InMemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Booking
	active map[slotKey]uuid.UUID
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:   make(map[uuid.UUID]*Booking),
		active: make(map[slotKey]uuid.UUID),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf(b)
	if b.Status.Active() {
		if _, taken := r.active[key]; taken {
			return ErrSlotTaken
		}
		r.active[key] = b.ID
	}
	stored := *b
	r.byID[b.ID] = &stored
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("booking", id)
	}
	out := *b
	return &out, nil
}

func (r *InMemoryRepository) OccupiedTimes(ctx context.Context, staffID int64, date time.Time) ([]calendar.Clock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := calendar.FormatDate(date)
	var times []calendar.Clock
	for key := range r.active {
		if key.staffID == staffID && key.date == day {
			times = append(times, key.time)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times, nil
}

func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, at time.Time) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("booking", id)
	}
	if !containsStatus(from, b.Status) {
		return nil, ErrTransition
	}
	r.setStatus(b, to, at)
	out := *b
	return &out, nil
}

func (r *InMemoryRepository) ExpirePending(ctx context.Context, createdBefore, at time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []uuid.UUID
	for id, b := range r.byID {
		if b.Status == StatusPending && b.CreatedAt.Before(createdBefore) {
			r.setStatus(b, StatusExpired, at)
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].String() < expired[j].String() })
	return expired, nil
}

// setStatus must be called with r.mu held.
func (r *InMemoryRepository) setStatus(b *Booking, to Status, at time.Time) {
	if b.Status.Active() && !to.Active() {
		delete(r.active, keyOf(b))
	}
	b.Status = to
	b.UpdatedAt = at
}

func containsStatus(list []Status, s Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
