package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/bookings"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/intent"
	"github.com/wolfman30/salon-concierge/internal/observability/metrics"
	"github.com/wolfman30/salon-concierge/internal/session"
)

// Wednesday 2026-10-14, 08:00 UTC.
var now = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

type flakyOccupancy struct {
	*bookings.InMemoryRepository
	mu  sync.Mutex
	err error
}

func (f *flakyOccupancy) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *flakyOccupancy) OccupiedTimes(ctx context.Context, staffID int64, date time.Time) ([]calendar.Clock, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.InMemoryRepository.OccupiedTimes(ctx, staffID, date)
}

type fixture struct {
	engine *Engine
	store  *session.MemoryStore
	occ    *flakyOccupancy
	reg    *prometheus.Registry
	ctx    context.Context
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	seed, err := catalog.LoadSeedFile("")
	require.NoError(t, err)
	repo := catalog.NewInMemoryRepository()
	require.NoError(t, seed.Apply(context.Background(), repo))

	occ := &flakyOccupancy{InMemoryRepository: bookings.NewInMemoryRepository()}
	slots := availability.NewService(repo, occ, catalog.DefaultBusinessHours(), nil,
		availability.WithClock(func() time.Time { return now }),
		availability.WithLocation(time.UTC),
	)
	reg := prometheus.NewRegistry()
	store := session.NewMemoryStore()
	opts = append([]Option{
		WithMetrics(metrics.NewConversationMetrics(reg)),
		WithConfig(Config{BusinessName: "Test Salon", PublicBaseURL: "http://salon.test/", SessionTTL: 24 * time.Hour}),
		WithReferenceFunc(func() string { return "REF12345" }),
	}, opts...)
	return &fixture{
		engine: NewEngine(store, slots, repo, nil, opts...),
		store:  store,
		occ:    occ,
		reg:    reg,
		ctx:    context.Background(),
	}
}

func (f *fixture) say(t *testing.T, key, text string) Reply {
	t.Helper()
	reply, err := f.engine.Handle(f.ctx, key, text)
	require.NoError(t, err)
	return reply
}

func (f *fixture) session(t *testing.T, key string) *session.Session {
	t.Helper()
	s, err := f.store.Get(f.ctx, key)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestHappyPathBooking(t *testing.T) {
	f := newFixture(t)

	reply := f.say(t, "web:1", "hi")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Equal(t, intent.Greeting, reply.Intent)
	assert.Contains(t, reply.Text, "Haircut: $25")
	assert.Contains(t, reply.Text, "Spa: $60")

	reply = f.say(t, "web:1", "haircut tomorrow")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "Thursday 2026-10-15")
	assert.Contains(t, reply.Text, "1. Alice Moreno: 09:00")
	assert.Contains(t, reply.Text, "2. Alice Moreno: 09:45")
	assert.Contains(t, reply.Text, "12. Ben Okafor: 10:00")
	assert.NotContains(t, reply.Text, "Already booked")

	sess := f.session(t, "web:1")
	assert.Equal(t, catalog.Haircut, sess.ServiceType)
	assert.Equal(t, "2026-10-15", sess.RequestedDate)
	assert.Len(t, sess.Offers, 22)

	reply = f.say(t, "web:1", "1")
	assert.Equal(t, session.StageAwaitingConfirmation, reply.Stage)
	assert.Equal(t, intent.SlotSelection, reply.Intent)
	assert.Contains(t, reply.Text, "REF12345")
	assert.Contains(t, reply.Text, "Haircut ($25) with Alice Moreno on Thursday 2026-10-15 at 09:00")
	require.NotNil(t, reply.Booking)
	assert.Equal(t, catalog.Haircut, reply.Booking.ServiceType)
	assert.Equal(t, int64(1), reply.Booking.StaffID)
	assert.Equal(t, int64(1), reply.Booking.ServiceID)
	assert.Equal(t, "2026-10-15", reply.Booking.Date)
	assert.Equal(t, calendar.NewClock(9, 0), reply.Booking.Time)
	assert.Equal(t, "http://salon.test/bookings/new?date=2026-10-15&ref=REF12345&service_id=1&service_type=haircut&staff_id=1&time=09%3A00", reply.Booking.Link)

	reply = f.say(t, "web:1", "ok great")
	assert.Equal(t, session.StageAwaitingConfirmation, reply.Stage)
	assert.Contains(t, reply.Text, "REF12345")

	reply = f.say(t, "web:1", "thanks")
	assert.Equal(t, session.StageEnded, reply.Stage)
	assert.Nil(t, reply.Booking)

	snap, err := metrics.TakeSnapshot(f.reg)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Turns)
	assert.Equal(t, int64(1), snap.TurnsByIntent["thanks"])
}

func TestGreetingSkipsToDateWhenServiceNamed(t *testing.T) {
	f := newFixture(t)

	reply := f.say(t, "web:2", "I'd like to book a facial")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Contains(t, reply.Text, "What day works")
	assert.Equal(t, catalog.Facial, f.session(t, "web:2").ServiceType)

	reply = f.say(t, "web:2", "friday")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "1. Chloe Tran: 09:00")
}

func TestGreetingStageRepromptsOnOtherIntents(t *testing.T) {
	f := newFixture(t)

	reply := f.say(t, "web:3", "1")
	assert.Equal(t, session.StageGreeting, reply.Stage)
	assert.Contains(t, reply.Text, "Welcome to Test Salon")

	reply = f.say(t, "web:3", "")
	assert.Equal(t, session.StageGreeting, reply.Stage)
}

func TestChoosingServiceRepromptsWithoutService(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:4", "hello")

	reply := f.say(t, "web:4", "tomorrow please")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Contains(t, reply.Text, "Which service")
	assert.False(t, f.session(t, "web:4").ServiceType.Valid())
}

func TestChoosingServiceDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:5", "hi")

	reply := f.say(t, "web:5", "haircut")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "Wednesday 2026-10-14")
	assert.Equal(t, "2026-10-14", f.session(t, "web:5").RequestedDate)
}

func TestClosedDayKeepsServiceSelection(t *testing.T) {
	f := newFixture(t)

	reply := f.say(t, "web:6", "haircut this sunday")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Contains(t, reply.Text, "closed on Sundays")

	sess := f.session(t, "web:6")
	assert.Equal(t, catalog.Haircut, sess.ServiceType)
	assert.Empty(t, sess.Offers)

	reply = f.say(t, "web:6", "monday")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "Monday 2026-10-19")
}

func TestNoAvailabilityStaysInChoosingService(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:7", "hi")

	// Chloe is the only facial specialist and never works Tuesdays.
	reply := f.say(t, "web:7", "facial on tuesday")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Contains(t, reply.Text, "no facial availability on Tuesday 2026-10-20")
	assert.Equal(t, catalog.Facial, f.session(t, "web:7").ServiceType)
}

func TestPastDateFallsBackToToday(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:8", "hi")

	reply := f.say(t, "web:8", "haircut on October 1 2026")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "can't book that date")
	assert.Contains(t, reply.Text, "2026-10-14")
	assert.Equal(t, "2026-10-14", f.session(t, "web:8").RequestedDate)

	// While picking, an unusable date is not a date switch.
	reply = f.say(t, "web:8", "what about October 2 2026")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "didn't catch which slot")
	assert.Equal(t, "2026-10-14", f.session(t, "web:8").RequestedDate)
}

func TestPickingSlotDateSwitchRegeneratesOffers(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:9", "haircut tomorrow")
	before := f.session(t, "web:9")
	old, ok := before.Offer("1")
	require.True(t, ok)
	assert.Equal(t, "2026-10-15", old.Date)

	reply := f.say(t, "web:9", "actually saturday")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "Saturday 2026-10-17")
	assert.Contains(t, reply.Text, "1. Ben Okafor: 09:00")

	after := f.session(t, "web:9")
	assert.Equal(t, "2026-10-17", after.RequestedDate)
	for _, o := range after.Offers {
		assert.Equal(t, "2026-10-17", o.Date)
		assert.Equal(t, int64(2), o.StaffID)
	}

	reply = f.say(t, "web:9", "1")
	require.NotNil(t, reply.Booking)
	assert.Equal(t, "2026-10-17", reply.Booking.Date)
	assert.Equal(t, "Ben Okafor", reply.Booking.StaffName)
}

func TestPickingSlotDateSwitchToClosedDayDropsOffers(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:10", "haircut tomorrow")

	reply := f.say(t, "web:10", "sunday then")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Contains(t, reply.Text, "closed")

	sess := f.session(t, "web:10")
	assert.Empty(t, sess.Offers)
	assert.Empty(t, sess.RequestedDate)
	assert.Equal(t, catalog.Haircut, sess.ServiceType)
}

func TestPickingSlotServiceSwitch(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:11", "haircut tomorrow")

	reply := f.say(t, "web:11", "can I book a beard trim instead")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "1. Ben Okafor: 10:00")
	assert.Equal(t, catalog.Beard, f.session(t, "web:11").ServiceType)
}

func TestPickingSlotByTimeAndLast(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		staff string
		at    string
	}{
		{name: "clock", text: "10:00 works", staff: "Ben Okafor", at: "10:00"},
		{name: "clock with name", text: "alice at 12:00", staff: "Alice Moreno", at: "12:00"},
		{name: "last", text: "the last one", staff: "Ben Okafor", at: "17:30"},
		{name: "hash ordinal", text: "#2", staff: "Alice Moreno", at: "09:45"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.say(t, "web:12", "haircut tomorrow")

			reply := f.say(t, "web:12", tt.text)
			require.Equal(t, session.StageAwaitingConfirmation, reply.Stage, reply.Text)
			require.NotNil(t, reply.Booking)
			assert.Equal(t, tt.staff, reply.Booking.StaffName)
			assert.Equal(t, tt.at, reply.Booking.Time.String())
		})
	}
}

func TestPickingSlotUnresolvedRelistsOffers(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:13", "haircut tomorrow")

	for _, text := range []string{"hmm", "99", "08:00"} {
		reply := f.say(t, "web:13", text)
		assert.Equal(t, session.StagePickingSlot, reply.Stage, text)
		assert.Contains(t, reply.Text, "1. Alice Moreno: 09:00", text)
	}
}

func TestPickingSlotTakenSinceOffered(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:14", "haircut tomorrow")

	require.NoError(t, f.occ.Create(f.ctx, &bookings.Booking{
		ID:          uuid.New(),
		CustomerID:  1,
		ServiceType: catalog.Haircut,
		ServiceID:   1,
		StaffID:     1,
		Date:        time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		Time:        calendar.NewClock(9, 0),
		Status:      bookings.StatusConfirmed,
		CreatedAt:   now,
	}))

	reply := f.say(t, "web:14", "1")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "09:00 with Alice Moreno is no longer available")
	assert.Nil(t, reply.Booking)

	sess := f.session(t, "web:14")
	assert.Equal(t, availability.SlotTaken, sess.SlotState(1, 1, calendar.NewClock(9, 0)))

	reply = f.say(t, "web:14", "2")
	assert.Equal(t, session.StageAwaitingConfirmation, reply.Stage)
}

func TestGlobalIntentsDoNotMutate(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:15", "haircut tomorrow")
	before := f.session(t, "web:15")

	reply := f.say(t, "web:15", "how much is it?")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "Beard: $15")

	reply = f.say(t, "web:15", "what are your hours")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "09:00 to 18:00")
	assert.Contains(t, reply.Text, "Closed Sunday")

	reply = f.say(t, "web:15", "help")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)

	after := f.session(t, "web:15")
	assert.Equal(t, before.Offers, after.Offers)
	assert.Equal(t, before.RequestedDate, after.RequestedDate)
}

func TestCancelRestartResets(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:16", "haircut tomorrow")

	reply := f.say(t, "web:16", "never mind, start over")
	assert.Equal(t, session.StageGreeting, reply.Stage)
	assert.Contains(t, reply.Text, "start over")

	sess := f.session(t, "web:16")
	assert.False(t, sess.ServiceType.Valid())
	assert.Empty(t, sess.Offers)
	assert.Nil(t, sess.Draft)
}

func TestAwaitingConfirmationNewBookingResets(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:17", "haircut tomorrow")
	f.say(t, "web:17", "1")

	reply := f.say(t, "web:17", "book a spa")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	sess := f.session(t, "web:17")
	assert.Equal(t, catalog.Spa, sess.ServiceType)
	assert.Nil(t, sess.Draft)
}

func TestEndedStageAcceptsNewBooking(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:18", "haircut tomorrow")
	f.say(t, "web:18", "1")
	f.say(t, "web:18", "thanks")

	reply := f.say(t, "web:18", "hello again")
	assert.Equal(t, session.StageEnded, reply.Stage)

	reply = f.say(t, "web:18", "facial on friday")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Contains(t, reply.Text, "Friday 2026-10-16")
}

func TestSystemFailureLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:19", "hi")

	f.occ.fail(errors.New("connection refused"))
	reply, err := f.engine.Handle(f.ctx, "web:19", "haircut tomorrow")
	require.Error(t, err)
	assert.Equal(t, "system_failure", apperr.Kind(err))
	assert.Contains(t, reply.Text, "technical difficulties")
	assert.Equal(t, session.StageChoosingService, reply.Stage)

	sess := f.session(t, "web:19")
	assert.Equal(t, session.StageChoosingService, sess.Stage)
	assert.False(t, sess.ServiceType.Valid())

	snap, err := metrics.TakeSnapshot(f.reg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Failures["system_failure"])

	f.occ.fail(nil)
	reply = f.say(t, "web:19", "haircut tomorrow")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
}

func TestTimeoutIsRecoverable(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:20", "hi")

	f.occ.fail(fmt.Errorf("query: %w", context.DeadlineExceeded))
	reply, err := f.engine.Handle(f.ctx, "web:20", "haircut tomorrow")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "try again")
	assert.Equal(t, session.StageChoosingService, reply.Stage)
	assert.Equal(t, session.StageChoosingService, f.session(t, "web:20").Stage)
}

func TestEmptyKeyIsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Handle(f.ctx, "  ", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestOfferFromEarlierDateIsRebuilt(t *testing.T) {
	f := newFixture(t)
	f.say(t, "web:22", "haircut tomorrow")

	sess := f.session(t, "web:22")
	require.NotEmpty(t, sess.Offers)
	sess.Offers[0].Date = "2026-10-13"
	require.NoError(t, f.store.Put(f.ctx, sess))

	reply := f.say(t, "web:22", "1")
	assert.Equal(t, session.StagePickingSlot, reply.Stage)
	assert.Nil(t, f.session(t, "web:22").Draft)
	rebuilt, ok := f.session(t, "web:22").Offer("1")
	require.True(t, ok)
	assert.Equal(t, "2026-10-15", rebuilt.Date)

	snap, err := metrics.TakeSnapshot(f.reg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Failures[apperr.Kind(apperr.ErrStale)])
}

func TestIdleSessionStartsOver(t *testing.T) {
	f := newFixture(t)
	stale := session.New("web:21", now.Add(-48*time.Hour))
	stale.Stage = session.StagePickingSlot
	stale.ServiceType = catalog.Haircut
	stale.RequestedDate = "2026-10-12"
	require.NoError(t, f.store.Put(f.ctx, stale))

	reply := f.say(t, "web:21", "1")
	assert.Equal(t, session.StageGreeting, reply.Stage)
	assert.Nil(t, reply.Booking)
	assert.False(t, f.session(t, "web:21").ServiceType.Valid())
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(f.ctx, &session.Session{Key: "old", Stage: session.StageGreeting, UpdatedAt: now.Add(-25 * time.Hour)}))
	f.say(t, "fresh", "hi")

	removed, err := f.engine.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, f.store.Len())
}

func TestGreetCreatesSession(t *testing.T) {
	f := newFixture(t)
	reply, err := f.engine.Greet(f.ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SessionKey)
	assert.Equal(t, session.StageGreeting, reply.Stage)
	assert.Contains(t, reply.Text, "Test Salon")
	assert.Equal(t, session.StageGreeting, f.session(t, reply.SessionKey).Stage)
}

// countingStore records how many turns are between Get and Put per key.
type countingStore struct {
	*session.MemoryStore
	mu       sync.Mutex
	inFlight map[string]int
	maxSeen  int
}

func (c *countingStore) Get(ctx context.Context, key string) (*session.Session, error) {
	c.mu.Lock()
	c.inFlight[key]++
	if c.inFlight[key] > c.maxSeen {
		c.maxSeen = c.inFlight[key]
	}
	c.mu.Unlock()
	time.Sleep(time.Millisecond)
	return c.MemoryStore.Get(ctx, key)
}

func (c *countingStore) Put(ctx context.Context, s *session.Session) error {
	c.mu.Lock()
	c.inFlight[s.Key]--
	c.mu.Unlock()
	return c.MemoryStore.Put(ctx, s)
}

func TestTurnsAreSerialisedPerKey(t *testing.T) {
	f := newFixture(t)
	store := &countingStore{MemoryStore: session.NewMemoryStore(), inFlight: map[string]int{}}
	f.engine.store = store

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Handle(f.ctx, "shared", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.maxSeen)
	assert.Equal(t, 0, f.engine.locks.Len())
}

func TestTranscriptsRecordTurns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	transcripts := NewTranscriptStore(client)

	f := newFixture(t, WithTranscripts(transcripts))
	f.say(t, "web:22", "hi")
	f.say(t, "web:22", "haircut tomorrow")

	msgs, err := transcripts.List(f.ctx, "web:22", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[3].Body, "1. Alice Moreno: 09:00")

	last, err := transcripts.List(f.ctx, "web:22", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, RoleAssistant, last[0].Role)

	assert.True(t, mr.Exists("transcript:web:22"))
	assert.Greater(t, mr.TTL("transcript:web:22"), time.Duration(0))
}
