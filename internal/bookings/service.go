package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/audit"
	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/notify"
	"github.com/wolfman30/salon-concierge/internal/observability/metrics"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

var bookingsTracer = otel.Tracer("salon.internal.bookings")

// Auditor records booking lifecycle events.
type Auditor interface {
	Record(ctx context.Context, event audit.Event) error
}

// Mailer sends customer-facing booking emails.
type Mailer interface {
	BookingConfirmed(ctx context.Context, n notify.BookingNotice) error
	BookingCancelled(ctx context.Context, n notify.BookingNotice) error
}

// CommitRequest is the input to Commit. Either CustomerID or Customer must
// be set.
type CommitRequest struct {
	CustomerID  int64                  `json:"customer_id,omitempty"`
	Customer    *catalog.CustomerInput `json:"customer,omitempty"`
	ServiceType catalog.ServiceType    `json:"service_type"`
	ServiceID   int64                  `json:"service_id"`
	StaffID     int64                  `json:"staff_id"`
	Date        string                 `json:"date"`
	Time        string                 `json:"time"`
	Hold        bool                   `json:"hold,omitempty"`
	Reference   string                 `json:"ref,omitempty"`
	Actor       string                 `json:"-"`
}

// Option customises a Service.
type Option func(*Service)

// WithAuditor records lifecycle events.
func WithAuditor(a Auditor) Option { return func(s *Service) { s.audit = a } }

// WithMailer sends confirmation and cancellation emails.
func WithMailer(m Mailer) Option { return func(s *Service) { s.mailer = m } }

// WithMetrics records commit outcomes and status changes.
func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithPendingTTL sets how long a held booking may stay pending.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.pendingTTL = ttl
		}
	}
}

// Service validates and commits bookings.
type Service struct {
	repo       Repository
	catalog    catalog.Repository
	slots      *availability.Service
	audit      Auditor
	mailer     Mailer
	metrics    *metrics.BookingMetrics
	pendingTTL time.Duration
	logger     *logging.Logger
}

// NewService constructs a bookings service.
func NewService(repo Repository, cat catalog.Repository, slots *availability.Service, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:       repo,
		catalog:    cat,
		slots:      slots,
		pendingTTL: 24 * time.Hour,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// commitContext is everything Commit resolved before writing.
type commitContext struct {
	service  *catalog.Service
	staff    *catalog.Staff
	customer *catalog.Customer
	date     time.Time
	at       calendar.Clock
}

// Commit re-validates the requested slot and creates the booking. Losing a
// race to another commit yields an *apperr.SlotConflictError.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.commit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("salon.service_id", req.ServiceID),
		attribute.Int64("salon.staff_id", req.StaffID),
		attribute.String("salon.date", req.Date),
		attribute.String("salon.time", req.Time),
	)

	b, cc, err := s.commit(ctx, req)
	outcome := apperr.Kind(err)
	label := "unknown"
	if req.ServiceType.Valid() {
		label = req.ServiceType.String()
	}
	if b != nil {
		label = b.ServiceType.String()
	}
	s.metrics.ObserveCommit(label, outcome)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("booking commit rejected",
			"service_id", req.ServiceID,
			"staff_id", req.StaffID,
			"date", req.Date,
			"time", req.Time,
			"outcome", outcome,
			"error", err,
		)
		return nil, err
	}
	span.SetAttributes(attribute.String("salon.booking_id", b.ID.String()))

	s.logger.Info("booking committed",
		"booking_id", b.ID.String(),
		"customer_id", b.CustomerID,
		"staff_id", b.StaffID,
		"date", calendar.FormatDate(b.Date),
		"time", b.Time.String(),
		"status", string(b.Status),
		"ref", req.Reference,
	)
	s.record(ctx, b, audit.ActionCreated, "", req.Actor, map[string]string{"ref": req.Reference})
	if b.Status == StatusConfirmed && s.mailer != nil {
		if err := s.mailer.BookingConfirmed(ctx, s.notice(b, cc)); err != nil {
			s.logger.Warn("booking confirmation email failed", "booking_id", b.ID.String(), "error", err)
		}
	}
	return b, nil
}

func (s *Service) commit(ctx context.Context, req CommitRequest) (*Booking, *commitContext, error) {
	cc, err := s.validate(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	state, err := s.slots.CheckSlot(ctx, availability.Query{
		ServiceType: cc.service.Type,
		ServiceID:   cc.service.ID,
		Date:        cc.date,
		StaffID:     cc.staff.ID,
	}, cc.at)
	if err != nil {
		return nil, nil, err
	}
	switch state {
	case availability.SlotTaken:
		return nil, nil, &apperr.SlotConflictError{StaffID: cc.staff.ID, Date: cc.date, Time: cc.at}
	case availability.SlotUnavailable:
		return nil, nil, apperr.Invalid("%s on %s is not a bookable time for %s", cc.at, calendar.FormatDate(cc.date), cc.staff.FullName())
	}

	customer, err := s.resolveCustomer(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	cc.customer = customer

	now := s.slots.Now()
	b := &Booking{
		ID:          uuid.New(),
		CustomerID:  customer.ID,
		ServiceType: cc.service.Type,
		ServiceID:   cc.service.ID,
		StaffID:     cc.staff.ID,
		Date:        cc.date,
		Time:        cc.at,
		Status:      StatusConfirmed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Hold {
		b.Status = StatusPending
	}
	if err := s.repo.Create(ctx, b); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, nil, &apperr.SlotConflictError{StaffID: b.StaffID, Date: b.Date, Time: b.Time}
		}
		return nil, nil, apperr.Wrap("bookings: create", err)
	}
	return b, cc, nil
}

func (s *Service) validate(ctx context.Context, req CommitRequest) (*commitContext, error) {
	if req.ServiceID <= 0 {
		return nil, apperr.Invalid("service_id is required")
	}
	if req.StaffID <= 0 {
		return nil, apperr.Invalid("staff_id is required")
	}
	date, err := calendar.ParseDate(strings.TrimSpace(req.Date), s.slots.Location())
	if err != nil {
		return nil, apperr.Invalid("date must be YYYY-MM-DD")
	}
	at, err := calendar.ParseClock(strings.TrimSpace(req.Time))
	if err != nil {
		return nil, apperr.Invalid("time must be HH:MM")
	}
	if err := s.slots.CheckDate(date); err != nil {
		return nil, err
	}

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, apperr.Wrap("bookings: service", err)
	}
	if req.ServiceType.Valid() && req.ServiceType != svc.Type {
		return nil, apperr.Invalid("service %d is not a %s service", svc.ID, req.ServiceType)
	}
	if !svc.Qualified(req.StaffID) {
		return nil, apperr.Invalid("staff %d does not offer %s", req.StaffID, svc.Name)
	}
	staff, err := s.catalog.GetStaff(ctx, req.StaffID)
	if err != nil {
		return nil, apperr.Wrap("bookings: staff", err)
	}
	return &commitContext{service: svc, staff: staff, date: date, at: at}, nil
}

func (s *Service) resolveCustomer(ctx context.Context, req CommitRequest) (*catalog.Customer, error) {
	if req.CustomerID > 0 {
		c, err := s.catalog.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			return nil, apperr.Wrap("bookings: customer", err)
		}
		return c, nil
	}
	if req.Customer == nil {
		return nil, apperr.Invalid("customer_id or customer details are required")
	}
	c, err := s.catalog.UpsertCustomer(ctx, *req.Customer)
	if err != nil {
		return nil, apperr.Wrap("bookings: upsert customer", err)
	}
	return c, nil
}

// Get loads a booking.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Wrap("bookings: get", err)
	}
	return b, nil
}

// Transition moves a booking to status to, provided its current status
// allows it.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor string) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.transition")
	defer span.End()
	span.SetAttributes(attribute.String("salon.booking_id", id.String()), attribute.String("salon.status", string(to)))

	from := AllowedFrom(to)
	if len(from) == 0 {
		return nil, apperr.Invalid("cannot move a booking to %q", to)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap("bookings: get", err)
	}

	b, err := s.repo.UpdateStatus(ctx, id, from, to, s.slots.Now())
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrTransition) {
			latest, getErr := s.repo.Get(ctx, id)
			if getErr == nil {
				current = latest
			}
			return nil, apperr.Invalid("booking %s is %s and cannot become %s", id, current.Status, to)
		}
		return nil, apperr.Wrap("bookings: update status", err)
	}

	s.metrics.ObserveStatusChange(string(to), 1)
	s.logger.Info("booking status changed", "booking_id", id.String(), "from", string(current.Status), "to", string(to))
	s.record(ctx, b, actionFor(to), current.Status, actor, nil)

	if to == StatusCancelled && s.mailer != nil {
		if cc, err := s.describe(ctx, b); err == nil {
			if err := s.mailer.BookingCancelled(ctx, s.notice(b, cc)); err != nil {
				s.logger.Warn("booking cancellation email failed", "booking_id", id.String(), "error", err)
			}
		}
	}
	return b, nil
}

// Confirm moves a pending booking to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	return s.Transition(ctx, id, StatusConfirmed, actor)
}

// Cancel frees the booking's slot.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	return s.Transition(ctx, id, StatusCancelled, actor)
}

// Complete marks a confirmed booking as done.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	return s.Transition(ctx, id, StatusCompleted, actor)
}

// ExpireDue expires pending bookings older than the pending TTL and returns
// how many were expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.slots.Now()
	ids, err := s.repo.ExpirePending(ctx, now.Add(-s.pendingTTL), now)
	if err != nil {
		return 0, apperr.Wrap("bookings: expire pending", err)
	}
	for _, id := range ids {
		s.record(ctx, &Booking{ID: id, Status: StatusExpired}, audit.ActionExpired, StatusPending, "expiry", nil)
	}
	s.metrics.ObserveStatusChange(string(StatusExpired), len(ids))
	if len(ids) > 0 {
		s.logger.Info("expired pending bookings", "count", len(ids))
	}
	return len(ids), nil
}

func (s *Service) record(ctx context.Context, b *Booking, action audit.Action, from Status, actor string, details map[string]string) {
	if s.audit == nil {
		return
	}
	event := audit.Event{
		BookingID:  b.ID.String(),
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(b.Status),
		Actor:      actor,
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			event.Details = raw
		}
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record booking event", "booking_id", event.BookingID, "action", string(action), "error", err)
	}
}

func (s *Service) describe(ctx context.Context, b *Booking) (*commitContext, error) {
	svc, err := s.catalog.GetService(ctx, b.ServiceID)
	if err != nil {
		return nil, err
	}
	staff, err := s.catalog.GetStaff(ctx, b.StaffID)
	if err != nil {
		return nil, err
	}
	customer, err := s.catalog.GetCustomer(ctx, b.CustomerID)
	if err != nil {
		return nil, err
	}
	return &commitContext{service: svc, staff: staff, customer: customer, date: b.Date, at: b.Time}, nil
}

func (s *Service) notice(b *Booking, cc *commitContext) notify.BookingNotice {
	n := notify.BookingNotice{
		BookingID: b.ID.String(),
		Date:      calendar.FormatDate(b.Date),
		Weekday:   b.Date.Weekday().String(),
		Time:      b.Time.String(),
		Status:    string(b.Status),
	}
	if cc == nil {
		return n
	}
	if cc.service != nil {
		n.ServiceName = cc.service.Name
		n.Price = catalog.FormatPrice(cc.service.PriceCents)
	}
	if cc.staff != nil {
		n.StaffName = cc.staff.FullName()
	}
	if cc.customer != nil {
		n.CustomerName = strings.TrimSpace(cc.customer.FirstName + " " + cc.customer.LastName)
		n.Email = cc.customer.Email
	}
	return n
}

func actionFor(to Status) audit.Action {
	switch to {
	case StatusConfirmed:
		return audit.ActionConfirmed
	case StatusCancelled:
		return audit.ActionCancelled
	case StatusCompleted:
		return audit.ActionCompleted
	default:
		return audit.ActionExpired
	}
}
