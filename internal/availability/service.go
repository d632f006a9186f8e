package availability

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/observability/metrics"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

var tracer = otel.Tracer("salon.internal.availability")

// Occupancy reports the times already claimed by pending or confirmed
// bookings for one staff member on one date.
type Occupancy interface {
	OccupiedTimes(ctx context.Context, staffID int64, date time.Time) ([]calendar.Clock, error)
}

// SlotState is the state of a single candidate slot.
type SlotState string

const (
	SlotOpen        SlotState = "open"
	SlotTaken       SlotState = "taken"
	SlotUnavailable SlotState = "unavailable"
)

// StaffSlots is one staff member's partition for one service instance.
type StaffSlots struct {
	StaffID   int64            `json:"staff_id"`
	StaffName string           `json:"staff_name"`
	ServiceID int64            `json:"service_id"`
	Open      []calendar.Clock `json:"open"`
	Taken     []calendar.Clock `json:"taken"`
}

// DayAvailability is the slot picture for a service type on one date.
// Staff entries are ordered by staff id, then service id.
type DayAvailability struct {
	ServiceType catalog.ServiceType `json:"service_type"`
	Date        time.Time           `json:"-"`
	Day         string              `json:"date"`
	Weekday     string              `json:"weekday"`
	Closed      bool                `json:"closed,omitempty"`
	Staff       []StaffSlots        `json:"staff"`
}

// HasOpen reports whether any staff member has an open slot.
func (d *DayAvailability) HasOpen() bool {
	if d == nil {
		return false
	}
	for _, s := range d.Staff {
		if len(s.Open) > 0 {
			return true
		}
	}
	return false
}

// State looks up a slot in the snapshot. serviceID 0 matches any instance.
func (d *DayAvailability) State(staffID, serviceID int64, at calendar.Clock) SlotState {
	if d == nil {
		return SlotUnavailable
	}
	state := SlotUnavailable
	for _, s := range d.Staff {
		if s.StaffID != staffID || (serviceID != 0 && s.ServiceID != serviceID) {
			continue
		}
		if calendar.ContainsClock(s.Open, at) {
			return SlotOpen
		}
		if calendar.ContainsClock(s.Taken, at) {
			state = SlotTaken
		}
	}
	return state
}

// OpenByName maps staff name to open times.
func (d *DayAvailability) OpenByName() map[string][]string {
	return d.byName(func(s StaffSlots) []calendar.Clock { return s.Open })
}

// TakenByName maps staff name to taken times.
func (d *DayAvailability) TakenByName() map[string][]string {
	return d.byName(func(s StaffSlots) []calendar.Clock { return s.Taken })
}

func (d *DayAvailability) byName(pick func(StaffSlots) []calendar.Clock) map[string][]string {
	out := make(map[string][]string)
	if d == nil {
		return out
	}
	for _, s := range d.Staff {
		times := out[s.StaffName]
		for _, c := range pick(s) {
			times = append(times, c.String())
		}
		if times == nil {
			times = []string{}
		}
		out[s.StaffName] = times
	}
	return out
}

// Query selects what to compute. ServiceID 0 means every instance of
// ServiceType; StaffID 0 means every qualified staff member.
type Query struct {
	ServiceType catalog.ServiceType
	ServiceID   int64
	Date        time.Time
	StaffID     int64
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the business timezone.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMetrics records slot query latency.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service computes availability against the catalog and live bookings.
type Service struct {
	catalog   catalog.Repository
	occupancy Occupancy
	hours     catalog.BusinessHours
	loc       *time.Location
	now       func() time.Time
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewService wires the availability service.
func NewService(repo catalog.Repository, occupancy Occupancy, hours catalog.BusinessHours, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		catalog:   repo,
		occupancy: occupancy,
		hours:     hours,
		loc:       time.Local,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time in the business timezone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Today returns midnight of the current business day.
func (s *Service) Today() time.Time { return calendar.DateOf(s.Now()) }

// Location returns the business timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Hours returns the configured business hours.
func (s *Service) Hours() catalog.BusinessHours { return s.hours }

// CheckDate rejects past dates and closed days.
func (s *Service) CheckDate(date time.Time) error {
	date = calendar.DateOf(date.In(s.loc))
	if date.Before(s.Today()) {
		return apperr.Invalid("date %s is in the past", calendar.FormatDate(date))
	}
	if s.hours.IsClosed(date.Weekday()) {
		return &apperr.ClosedDayError{Date: date}
	}
	return nil
}

// ForDay computes per-staff open and taken slots for q.
func (s *Service) ForDay(ctx context.Context, q Query) (*DayAvailability, error) {
	ctx, span := tracer.Start(ctx, "availability.ForDay")
	defer span.End()

	start := time.Now()
	day, err := s.forDay(ctx, q)
	if err != nil {
		span.RecordError(err)
		if apperr.Kind(err) == "system_failure" || apperr.Kind(err) == "timeout" {
			span.SetStatus(codes.Error, "availability query failed")
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("salon.service_type", day.ServiceType.String()),
		attribute.String("salon.date", day.Day),
		attribute.Int("salon.staff_count", len(day.Staff)),
	)
	s.metrics.ObserveSlotQuery(day.ServiceType.String(), time.Since(start).Seconds())
	return day, nil
}

func (s *Service) forDay(ctx context.Context, q Query) (*DayAvailability, error) {
	date := calendar.DateOf(q.Date.In(s.loc))
	if err := s.CheckDate(date); err != nil {
		return nil, err
	}

	services, err := s.resolveServices(ctx, q)
	if err != nil {
		return nil, err
	}

	day := &DayAvailability{
		ServiceType: q.ServiceType,
		Date:        date,
		Day:         calendar.FormatDate(date),
		Weekday:     date.Weekday().String(),
		Staff:       []StaffSlots{},
	}
	if len(services) > 0 {
		day.ServiceType = services[0].Type
	}

	now := s.Now()
	names := make(map[int64]string)
	occupied := make(map[int64][]calendar.Clock)
	for _, svc := range services {
		for _, staffID := range svc.StaffIDs {
			if q.StaffID != 0 && staffID != q.StaffID {
				continue
			}
			window, err := s.catalog.Availability(ctx, staffID, date.Weekday())
			if err != nil {
				return nil, apperr.Wrap("availability: staff window", err)
			}
			if window == nil {
				continue
			}

			if _, ok := names[staffID]; !ok {
				staff, err := s.catalog.GetStaff(ctx, staffID)
				if err != nil {
					return nil, apperr.Wrap("availability: staff", err)
				}
				names[staffID] = staff.FullName()

				times, err := s.occupancy.OccupiedTimes(ctx, staffID, date)
				if err != nil {
					return nil, apperr.Wrap("availability: occupied times", err)
				}
				occupied[staffID] = times
			}

			minutes := s.hours.SlotMinutes(svc)
			res := AvailableSlots(window, minutes, s.hours.BufferMinutes, date, occupied[staffID], now)
			res.Open = s.withinHours(res.Open, minutes)
			res.Taken = s.withinHours(res.Taken, minutes)
			if len(res.Open) == 0 && len(res.Taken) == 0 {
				continue
			}
			day.Staff = append(day.Staff, StaffSlots{
				StaffID:   staffID,
				StaffName: names[staffID],
				ServiceID: svc.ID,
				Open:      nonNil(res.Open),
				Taken:     nonNil(res.Taken),
			})
		}
	}

	sort.SliceStable(day.Staff, func(i, j int) bool {
		if day.Staff[i].StaffID != day.Staff[j].StaffID {
			return day.Staff[i].StaffID < day.Staff[j].StaffID
		}
		return day.Staff[i].ServiceID < day.Staff[j].ServiceID
	})
	return day, nil
}

func (s *Service) resolveServices(ctx context.Context, q Query) ([]catalog.Service, error) {
	if q.ServiceID != 0 {
		svc, err := s.catalog.GetService(ctx, q.ServiceID)
		if err != nil {
			return nil, apperr.Wrap("availability: service", err)
		}
		if q.ServiceType.Valid() && svc.Type != q.ServiceType {
			return nil, apperr.Invalid("service %d is not a %s service", svc.ID, q.ServiceType)
		}
		return []catalog.Service{*svc}, nil
	}
	if !q.ServiceType.Valid() {
		return nil, apperr.Invalid("service type is required")
	}
	services, err := s.catalog.ServicesByType(ctx, q.ServiceType)
	if err != nil {
		return nil, apperr.Wrap("availability: services by type", err)
	}
	return services, nil
}

// withinHours keeps the slots that start and finish inside business hours.
// Slots stay on the staff window's grid.
func (s *Service) withinHours(slots []calendar.Clock, minutes int) []calendar.Clock {
	var kept []calendar.Clock
	for _, slot := range slots {
		if slot < s.hours.Open {
			continue
		}
		if s.hours.Close > 0 && slot.Add(minutes) > s.hours.Close {
			continue
		}
		kept = append(kept, slot)
	}
	return kept
}

// CheckSlot recomputes availability and reports the state of one slot.
func (s *Service) CheckSlot(ctx context.Context, q Query, at calendar.Clock) (SlotState, error) {
	if q.StaffID == 0 {
		return SlotUnavailable, apperr.Invalid("staff is required")
	}
	day, err := s.ForDay(ctx, q)
	if err != nil {
		return SlotUnavailable, err
	}
	return day.State(q.StaffID, q.ServiceID, at), nil
}

// Weekly computes seven consecutive days starting at q.Date. Closed days
// are flagged instead of failing the whole week.
func (s *Service) Weekly(ctx context.Context, q Query) ([]DayAvailability, error) {
	start := calendar.DateOf(q.Date.In(s.loc))
	if start.Before(s.Today()) {
		return nil, apperr.Invalid("date %s is in the past", calendar.FormatDate(start))
	}

	days := make([]DayAvailability, 0, 7)
	for i := 0; i < 7; i++ {
		date := start.AddDate(0, 0, i)
		if s.hours.IsClosed(date.Weekday()) {
			days = append(days, DayAvailability{
				ServiceType: q.ServiceType,
				Date:        date,
				Day:         calendar.FormatDate(date),
				Weekday:     date.Weekday().String(),
				Closed:      true,
				Staff:       []StaffSlots{},
			})
			continue
		}
		dq := q
		dq.Date = date
		day, err := s.ForDay(ctx, dq)
		if err != nil {
			return nil, err
		}
		days = append(days, *day)
	}
	return days, nil
}

func nonNil(c []calendar.Clock) []calendar.Clock {
	if c == nil {
		return []calendar.Clock{}
	}
	return c
}
