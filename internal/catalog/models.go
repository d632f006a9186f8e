package catalog

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
)

// Service is one bookable catalog entry. Several entries may share a type.
type Service struct {
	ID              int64       `json:"id"`
	Type            ServiceType `json:"service_type"`
	Name            string      `json:"name"`
	PriceCents      int         `json:"price_cents"`
	DurationMinutes int         `json:"duration_minutes"`
	StaffIDs        []int64     `json:"staff_ids"`
}

// Qualified reports whether staffID may perform the service.
func (s Service) Qualified(staffID int64) bool {
	for _, id := range s.StaffIDs {
		if id == staffID {
			return true
		}
	}
	return false
}

// Staff is a salon employee.
type Staff struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// FullName joins first and last name.
func (s Staff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Availability is a recurring weekly working window.
type Availability struct {
	StaffID int64          `json:"staff_id"`
	Weekday time.Weekday   `json:"weekday"`
	Start   calendar.Clock `json:"start"`
	End     calendar.Clock `json:"end"`
}

// Customer is someone who has booked at least once.
type Customer struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerInput carries the fields used to find or create a customer.
type CustomerInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// Normalize trims fields and lower-cases the email.
func (in CustomerInput) Normalize() CustomerInput {
	return CustomerInput{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:     strings.TrimSpace(in.Phone),
	}
}

// Validate checks the fields required to create a customer.
func (in CustomerInput) Validate() error {
	if in.FirstName == "" {
		return apperr.Invalid("first name is required")
	}
	if in.Email == "" {
		return apperr.Invalid("email is required")
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email || !strings.Contains(in.Email[strings.LastIndex(in.Email, "@"):], ".") {
		return apperr.Invalid("email %q is not valid", in.Email)
	}
	return nil
}

// BusinessHours holds salon-wide scheduling rules.
type BusinessHours struct {
	Open               calendar.Clock
	Close              calendar.Clock
	ClosedDays         []time.Weekday
	DefaultSlotMinutes int
	BufferMinutes      int
}

// DefaultBusinessHours opens 09:00-18:00, closed Sundays, 30 minute slots
// with a 15 minute buffer.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Open:               calendar.NewClock(9, 0),
		Close:              calendar.NewClock(18, 0),
		ClosedDays:         []time.Weekday{time.Sunday},
		DefaultSlotMinutes: 30,
		BufferMinutes:      15,
	}
}

// IsClosed reports whether the salon is closed on d.
func (h BusinessHours) IsClosed(d time.Weekday) bool {
	for _, closed := range h.ClosedDays {
		if closed == d {
			return true
		}
	}
	return false
}

// SlotMinutes returns the slot length for svc.
func (h BusinessHours) SlotMinutes(svc Service) int {
	if svc.DurationMinutes > 0 {
		return svc.DurationMinutes
	}
	return h.DefaultSlotMinutes
}

// Describe renders the opening hours for chat replies.
func (h BusinessHours) Describe() string {
	var open, closed []string
	for d := time.Monday; ; d = (d + 1) % 7 {
		if h.IsClosed(d) {
			closed = append(closed, d.String())
		} else {
			open = append(open, d.String()[:3])
		}
		if d == time.Sunday {
			break
		}
	}
	text := fmt.Sprintf("We're open %s, %s to %s.", strings.Join(open, ", "), h.Open, h.Close)
	if len(closed) > 0 {
		text += fmt.Sprintf(" Closed %s.", strings.Join(closed, " and "))
	}
	return text
}

// PriceList renders the lowest price per service type, in display order.
func PriceList(services []Service) []string {
	lowest := make(map[ServiceType]int)
	for _, svc := range services {
		if current, ok := lowest[svc.Type]; !ok || svc.PriceCents < current {
			lowest[svc.Type] = svc.PriceCents
		}
	}
	var lines []string
	for _, t := range ServiceTypes {
		cents, ok := lowest[t]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", t.DisplayName(), FormatPrice(cents)))
	}
	return lines
}

// FormatPrice renders cents as dollars, dropping zero cents.
func FormatPrice(cents int) string {
	if cents%100 == 0 {
		return fmt.Sprintf("$%d", cents/100)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// Repository exposes catalog lookups and customer creation.
type Repository interface {
	ListServices(ctx context.Context) ([]Service, error)
	ServicesByType(ctx context.Context, t ServiceType) ([]Service, error)
	GetService(ctx context.Context, id int64) (*Service, error)
	ListStaff(ctx context.Context) ([]Staff, error)
	GetStaff(ctx context.Context, id int64) (*Staff, error)
	// Availability returns nil when staffID has no window on weekday.
	Availability(ctx context.Context, staffID int64, weekday time.Weekday) (*Availability, error)
	StaffAvailability(ctx context.Context, staffID int64) ([]Availability, error)
	UpsertCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
}

func sortServices(services []Service) {
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
}
