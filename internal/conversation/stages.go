package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/dates"
	"github.com/wolfman30/salon-concierge/internal/intent"
	"github.com/wolfman30/salon-concierge/internal/session"
)

var (
	ordinalPick = regexp.MustCompile(`(?i)^\s*(?:#|no\.?|number|option|slot)?\s*(\d{1,3})\s*[.!]?\s*$`)
	clockPick   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	lastPick    = regexp.MustCompile(`(?i)\blast\b`)
)

func (e *Engine) onGreeting(t *turn) (string, error) {
	if t.intent != intent.Greeting && t.intent != intent.ServiceRequest {
		return e.welcome(), nil
	}
	t.sess.Stage = session.StageChoosingService
	st, ok := catalog.ExtractServiceType(t.text)
	if !ok {
		return e.servicesPrompt(t.ctx), nil
	}
	t.sess.ServiceType = st
	if dates.LooksLikeDate(t.text) {
		return e.onChoosingService(t)
	}
	return fmt.Sprintf("Great, a %s. What day works for you? You can say things like \"tomorrow\" or \"Friday\".", strings.ToLower(st.DisplayName())), nil
}

func (e *Engine) onChoosingService(t *turn) (string, error) {
	if !t.sess.ServiceType.Valid() {
		st, ok := catalog.ExtractServiceType(t.text)
		if !ok {
			return "Which service would you like? " + e.servicesPrompt(t.ctx), nil
		}
		t.sess.ServiceType = st
	}

	// An unusable date counts as no date: fall back to today and say why.
	res := e.resolver.Resolve(t.text, t.today)
	date := t.today
	if res.OK() {
		date = res.Date
	}
	reply, _, err := e.offer(t, date)
	if err == nil && res.Outcome == dates.Rejected {
		reply = fmt.Sprintf("I can't book that date (%s), so here's today instead.\n%s", res.Reason, reply)
	}
	return reply, err
}

// offer computes slots for the session's service on date and, when any
// are open, replaces the offer map and moves to picking_slot. It reports
// whether offers were made; otherwise the session is left as it was.
func (e *Engine) offer(t *turn, date time.Time) (string, bool, error) {
	day, err := e.slots.ForDay(t.ctx, availability.Query{ServiceType: t.sess.ServiceType, Date: date})
	if err != nil {
		if isSystem(err) {
			return "", false, err
		}
		t.failure = apperr.Kind(err)
		var closed *apperr.ClosedDayError
		if errors.As(err, &closed) {
			return fmt.Sprintf("Sorry, we're closed on %ss. Which other day works for you?", closed.Date.Weekday()), false, nil
		}
		if errors.Is(err, apperr.ErrInvalidInput) {
			return "That date doesn't work. Which other day would you like?", false, nil
		}
		return "", false, err
	}

	name := strings.ToLower(t.sess.ServiceType.DisplayName())
	if !day.HasOpen() {
		return fmt.Sprintf("Sorry, there's no %s availability on %s %s. Would you like to try another day?", name, day.Weekday, day.Day), false, nil
	}

	offers := buildOffers(day)
	t.sess.RequestedDate = day.Day
	t.sess.Offers = offers
	t.sess.Snapshot = day.Staff
	t.sess.Draft = nil
	t.sess.Stage = session.StagePickingSlot
	return renderOffers(fmt.Sprintf("Here's what's open for a %s on %s %s:", name, day.Weekday, day.Day), offers, day), true, nil
}

// buildOffers numbers every open slot, staff in id order, times ascending.
func buildOffers(day *availability.DayAvailability) []session.Offer {
	var offers []session.Offer
	for _, s := range day.Staff {
		for _, at := range s.Open {
			offers = append(offers, session.Offer{
				Ordinal:   strconv.Itoa(len(offers) + 1),
				StaffID:   s.StaffID,
				StaffName: s.StaffName,
				ServiceID: s.ServiceID,
				Date:      day.Day,
				Time:      at,
			})
		}
	}
	return offers
}

func renderOffers(header string, offers []session.Offer, day *availability.DayAvailability) string {
	var b strings.Builder
	b.WriteString(header)
	for _, o := range offers {
		fmt.Fprintf(&b, "\n%s. %s: %s", o.Ordinal, o.StaffName, o.Time)
	}
	if day != nil {
		var taken []string
		for _, s := range day.Staff {
			for _, at := range s.Taken {
				taken = append(taken, fmt.Sprintf("%s %s", s.StaffName, at))
			}
		}
		if len(taken) > 0 {
			b.WriteString("\nAlready booked: " + strings.Join(taken, ", "))
		}
	}
	b.WriteString("\nReply with a number or a time to pick a slot.")
	return b.String()
}

func (e *Engine) onPickingSlot(t *turn) (string, error) {
	if st, ok := catalog.ExtractServiceType(t.text); ok && t.intent == intent.ServiceRequest && st != t.sess.ServiceType {
		return e.redirect(t, st, e.pickDate(t))
	}
	if res := e.resolver.Resolve(t.text, t.today); res.OK() && calendar.FormatDate(res.Date) != t.sess.RequestedDate {
		return e.redirect(t, t.sess.ServiceType, res.Date)
	}

	offer, ok := e.selectOffer(t.sess, t.text)
	if !ok {
		return renderOffers("Sorry, I didn't catch which slot you'd like. Here are the options again:", t.sess.Offers, nil), nil
	}
	if offer.Date != t.sess.RequestedDate {
		// Offer map from an earlier date; rebuild it rather than trust it.
		err := fmt.Errorf("conversation: offer %s for %s, session on %s: %w", offer.Ordinal, offer.Date, t.sess.RequestedDate, apperr.ErrStale)
		e.logger.Info("rebuilding stale offers", "session", t.sess.Key, "error", err)
		t.failure = apperr.Kind(err)
		date, err := calendar.ParseDate(t.sess.RequestedDate, e.slots.Location())
		if err != nil {
			date = t.today
		}
		return e.redirect(t, t.sess.ServiceType, date)
	}

	if state := t.sess.SlotState(offer.StaffID, offer.ServiceID, offer.Time); state != availability.SlotOpen {
		t.failure = "slot_conflict"
		return e.slotGone(offer), nil
	}
	date, err := calendar.ParseDate(offer.Date, e.slots.Location())
	if err != nil {
		return "", apperr.System("conversation: offer date", err)
	}
	state, err := e.slots.CheckSlot(t.ctx, availability.Query{
		ServiceType: t.sess.ServiceType,
		ServiceID:   offer.ServiceID,
		StaffID:     offer.StaffID,
		Date:        date,
	}, offer.Time)
	if err != nil {
		if isSystem(err) {
			return "", err
		}
		t.failure = apperr.Kind(err)
		return e.slotGone(offer), nil
	}
	if state != availability.SlotOpen {
		t.failure = "slot_conflict"
		markTaken(t.sess, offer)
		return e.slotGone(offer), nil
	}

	draft := &session.Draft{
		Reference:   e.newRef(),
		ServiceType: t.sess.ServiceType,
		ServiceID:   offer.ServiceID,
		StaffID:     offer.StaffID,
		StaffName:   offer.StaffName,
		Date:        offer.Date,
		Time:        offer.Time,
	}
	draft.Link = e.bookingLink(draft)
	t.sess.Draft = draft
	t.sess.Stage = session.StageAwaitingConfirmation
	return e.summary(t.ctx, draft, date), nil
}

// redirect restarts slot selection for a new service or date. When the new
// day has nothing to offer the old offers are dropped and the session
// returns to choosing_service.
func (e *Engine) redirect(t *turn, st catalog.ServiceType, date time.Time) (string, error) {
	t.sess.ServiceType = st
	reply, ok, err := e.offer(t, date)
	if err != nil || ok {
		return reply, err
	}
	t.sess.Offers = nil
	t.sess.Snapshot = nil
	t.sess.RequestedDate = ""
	t.sess.Draft = nil
	t.sess.Stage = session.StageChoosingService
	return reply, nil
}

func (e *Engine) pickDate(t *turn) time.Time {
	if res := e.resolver.Resolve(t.text, t.today); res.OK() {
		return res.Date
	}
	if date, err := calendar.ParseDate(t.sess.RequestedDate, e.slots.Location()); err == nil {
		return date
	}
	return t.today
}

// selectOffer resolves an ordinal, then an HH:MM time, then "last".
func (e *Engine) selectOffer(sess *session.Session, text string) (session.Offer, bool) {
	if m := ordinalPick.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return sess.Offer(strconv.Itoa(n))
	}
	if m := clockPick.FindStringSubmatch(text); m != nil {
		at, err := calendar.ParseClock(m[1] + ":" + m[2])
		if err == nil {
			return matchTime(sess.Offers, at, text)
		}
	}
	if lastPick.MatchString(text) {
		return sess.LastOffer()
	}
	return session.Offer{}, false
}

// matchTime finds the offer whose label ends in at, preferring a staff
// member named in text.
func matchTime(offers []session.Offer, at calendar.Clock, text string) (session.Offer, bool) {
	lower := strings.ToLower(text)
	var first *session.Offer
	for i := range offers {
		o := offers[i]
		if !strings.HasSuffix(o.Label(), " "+at.String()) {
			continue
		}
		if mentionsStaff(lower, o.StaffName) {
			return o, true
		}
		if first == nil {
			first = &offers[i]
		}
	}
	if first == nil {
		return session.Offer{}, false
	}
	return *first, true
}

func mentionsStaff(lower, name string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, part := range strings.Fields(strings.ToLower(name)) {
		for _, w := range words {
			if len(part) > 1 && w == part {
				return true
			}
		}
	}
	return false
}

func markTaken(sess *session.Session, o session.Offer) {
	for i, s := range sess.Snapshot {
		if s.StaffID != o.StaffID || s.ServiceID != o.ServiceID {
			continue
		}
		open := s.Open[:0:0]
		for _, at := range s.Open {
			if at != o.Time {
				open = append(open, at)
			}
		}
		sess.Snapshot[i].Open = open
		if !calendar.ContainsClock(s.Taken, o.Time) {
			sess.Snapshot[i].Taken = append(append([]calendar.Clock(nil), s.Taken...), o.Time)
		}
	}
}

func (e *Engine) slotGone(o session.Offer) string {
	return fmt.Sprintf("Sorry, %s with %s is no longer available. Please pick another slot.", o.Time, o.StaffName)
}

func (e *Engine) onAwaitingConfirmation(t *turn) (string, error) {
	switch t.intent {
	case intent.Thanks:
		t.sess.Stage = session.StageEnded
		return fmt.Sprintf("You're welcome! See you soon at %s.", e.cfg.BusinessName), nil
	case intent.Greeting, intent.ServiceRequest:
		t.sess.Reset()
		return e.onGreeting(t)
	}
	if t.sess.Draft == nil {
		t.sess.Reset()
		return e.welcome(), nil
	}
	return fmt.Sprintf("Your booking reference %s is ready. Finish booking here: %s", t.sess.Draft.Reference, t.sess.Draft.Link), nil
}

func (e *Engine) onEnded(t *turn) (string, error) {
	if t.intent == intent.ServiceRequest {
		t.sess.Reset()
		return e.onGreeting(t)
	}
	return "Thanks for chatting with us. Just say \"book\" if you'd like another appointment.", nil
}

func (e *Engine) welcome() string {
	return fmt.Sprintf("Hi! Welcome to %s. I can book a haircut, beard trim, facial or spa session. What would you like?", e.cfg.BusinessName)
}

func (e *Engine) help() string {
	return "Tell me which service you'd like (haircut, beard, facial or spa) and a day such as \"tomorrow\" or \"Friday\". " +
		"I'll list open slots and you can reply with a number or a time. Ask about prices or opening hours anytime, or say \"start over\" to reset."
}

// servicesPrompt lists services with prices, falling back to plain names
// when the catalog can't be read.
func (e *Engine) servicesPrompt(ctx context.Context) string {
	lines, err := e.priceLines(ctx)
	if err != nil || len(lines) == 0 {
		names := make([]string, 0, len(catalog.ServiceTypes))
		for _, st := range catalog.ServiceTypes {
			names = append(names, st.DisplayName())
		}
		return "We offer: " + strings.Join(names, ", ") + ". Which would you like?"
	}
	return "We offer:\n" + strings.Join(lines, "\n") + "\nWhich would you like?"
}

func (e *Engine) prices(ctx context.Context) (string, error) {
	lines, err := e.priceLines(ctx)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "We don't have any services listed right now.", nil
	}
	return "Our prices:\n" + strings.Join(lines, "\n"), nil
}

func (e *Engine) priceLines(ctx context.Context) ([]string, error) {
	services, err := e.catalog.ListServices(ctx)
	if err != nil {
		return nil, apperr.Wrap("conversation: list services", err)
	}
	return catalog.PriceList(services), nil
}

func (e *Engine) summary(ctx context.Context, d *session.Draft, date time.Time) string {
	price := ""
	if svc, err := e.catalog.GetService(ctx, d.ServiceID); err == nil && svc != nil {
		price = " (" + catalog.FormatPrice(svc.PriceCents) + ")"
	}
	return fmt.Sprintf("Great choice! %s%s with %s on %s %s at %s.\nYour reference is %s. Confirm your booking here: %s",
		d.ServiceType.DisplayName(), price, d.StaffName, date.Weekday(), d.Date, d.Time, d.Reference, d.Link)
}

func (e *Engine) bookingLink(d *session.Draft) string {
	q := url.Values{}
	q.Set("service_type", d.ServiceType.String())
	q.Set("service_id", strconv.FormatInt(d.ServiceID, 10))
	q.Set("staff_id", strconv.FormatInt(d.StaffID, 10))
	q.Set("date", d.Date)
	q.Set("time", d.Time.String())
	q.Set("ref", d.Reference)
	return e.cfg.PublicBaseURL + "/bookings/new?" + q.Encode()
}
