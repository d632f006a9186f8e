package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// BookingNotice is what the mailer needs to describe a booking.
type BookingNotice struct {
	BookingID    string
	CustomerName string
	Email        string
	ServiceName  string
	StaffName    string
	Date         string // YYYY-MM-DD
	Weekday      string
	Time         string // HH:MM
	Price        string
	Status       string
}

// BookingMailer renders booking emails and hands them to an EmailSender.
type BookingMailer struct {
	sender   EmailSender
	business string
	logger   *logging.Logger
}

// NewBookingMailer creates a mailer. business is used in subjects and
// sign-offs.
func NewBookingMailer(sender EmailSender, business string, logger *logging.Logger) *BookingMailer {
	if logger == nil {
		logger = logging.Default()
	}
	if business == "" {
		business = "Salon Concierge"
	}
	return &BookingMailer{sender: sender, business: business, logger: logger}
}

// BookingConfirmed sends the confirmation email.
func (m *BookingMailer) BookingConfirmed(ctx context.Context, n BookingNotice) error {
	return m.send(ctx, n,
		fmt.Sprintf("%s: your %s is booked", m.business, n.ServiceName),
		"your appointment is booked.")
}

// BookingCancelled sends the cancellation email.
func (m *BookingMailer) BookingCancelled(ctx context.Context, n BookingNotice) error {
	return m.send(ctx, n,
		fmt.Sprintf("%s: your %s was cancelled", m.business, n.ServiceName),
		"your appointment has been cancelled.")
}

func (m *BookingMailer) send(ctx context.Context, n BookingNotice, subject, lead string) error {
	if m == nil || m.sender == nil {
		return nil
	}
	if strings.TrimSpace(n.Email) == "" {
		m.logger.Debug("booking email skipped: no address", "booking_id", n.BookingID)
		return nil
	}

	name := n.CustomerName
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, %s\n\n", name, lead)
	fmt.Fprintf(&b, "Service: %s\n", n.ServiceName)
	if n.StaffName != "" {
		fmt.Fprintf(&b, "With: %s\n", n.StaffName)
	}
	fmt.Fprintf(&b, "When: %s %s at %s\n", n.Weekday, n.Date, n.Time)
	if n.Price != "" {
		fmt.Fprintf(&b, "Price: %s\n", n.Price)
	}
	fmt.Fprintf(&b, "Reference: %s\n\n", n.BookingID)
	fmt.Fprintf(&b, "See you soon,\n%s\n", m.business)

	if err := m.sender.Send(ctx, EmailMessage{
		To:      n.Email,
		ToName:  n.CustomerName,
		Subject: subject,
		Body:    b.String(),
	}); err != nil {
		return fmt.Errorf("notify: booking email %s: %w", n.BookingID, err)
	}
	return nil
}
