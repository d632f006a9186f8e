package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/salon-concierge/internal/apperr"
)

type availabilityKey struct {
	staffID int64
	weekday time.Weekday
}

// InMemoryRepository keeps the catalog in process memory.
type InMemoryRepository struct {
	mu             sync.RWMutex
	services       map[int64]Service
	staff          map[int64]Staff
	availability   map[availabilityKey]Availability
	customers      map[int64]*Customer
	customerEmails map[string]int64
	nextCustomerID int64
	now            func() time.Time
}

// NewInMemoryRepository creates an empty in-memory catalog.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		services:       make(map[int64]Service),
		staff:          make(map[int64]Staff),
		availability:   make(map[availabilityKey]Availability),
		customers:      make(map[int64]*Customer),
		customerEmails: make(map[string]int64),
		now:            time.Now,
	}
}

// PutStaff inserts or replaces a staff member.
func (r *InMemoryRepository) PutStaff(s Staff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff[s.ID] = s
}

// PutService inserts or replaces a catalog entry.
func (r *InMemoryRepository) PutService(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.StaffIDs = append([]int64(nil), s.StaffIDs...)
	sort.Slice(s.StaffIDs, func(i, j int) bool { return s.StaffIDs[i] < s.StaffIDs[j] })
	r.services[s.ID] = s
}

// PutAvailability sets the window for (staff, weekday), replacing any
// previous entry so the pair stays unique.
func (r *InMemoryRepository) PutAvailability(a Availability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability[availabilityKey{a.StaffID, a.Weekday}] = a
}

func (r *InMemoryRepository) ListServices(ctx context.Context) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sortServices(out)
	return out, nil
}

func (r *InMemoryRepository) ServicesByType(ctx context.Context, t ServiceType) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Service
	for _, svc := range r.services {
		if svc.Type == t {
			out = append(out, svc)
		}
	}
	sortServices(out)
	return out, nil
}

func (r *InMemoryRepository) GetService(ctx context.Context, id int64) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	if !ok {
		return nil, apperr.NotFound("service", id)
	}
	return &svc, nil
}

func (r *InMemoryRepository) ListStaff(ctx context.Context) ([]Staff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Staff, 0, len(r.staff))
	for _, s := range r.staff {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) GetStaff(ctx context.Context, id int64) (*Staff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.staff[id]
	if !ok {
		return nil, apperr.NotFound("staff", id)
	}
	return &s, nil
}

func (r *InMemoryRepository) Availability(ctx context.Context, staffID int64, weekday time.Weekday) (*Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.availability[availabilityKey{staffID, weekday}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *InMemoryRepository) StaffAvailability(ctx context.Context, staffID int64) ([]Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Availability
	for key, a := range r.availability {
		if key.staffID == staffID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

// UpsertCustomer returns the customer with in.Email, creating it when absent.
func (r *InMemoryRepository) UpsertCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.customerEmails[in.Email]; ok {
		existing := *r.customers[id]
		return &existing, nil
	}
	r.nextCustomerID++
	c := &Customer{
		ID:        r.nextCustomerID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		CreatedAt: r.now().UTC(),
	}
	r.customers[c.ID] = c
	r.customerEmails[c.Email] = c.ID
	out := *c
	return &out, nil
}

func (r *InMemoryRepository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, apperr.NotFound("customer", id)
	}
	out := *c
	return &out, nil
}
