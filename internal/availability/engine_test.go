package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
)

func clocks(values ...string) []calendar.Clock {
	out := make([]calendar.Clock, 0, len(values))
	for _, v := range values {
		out = append(out, calendar.MustParseClock(v))
	}
	return out
}

func window(weekday time.Weekday, start, end string) *catalog.Availability {
	return &catalog.Availability{
		StaffID: 1,
		Weekday: weekday,
		Start:   calendar.MustParseClock(start),
		End:     calendar.MustParseClock(end),
	}
}

func TestAvailableSlotsPartitions(t *testing.T) {
	date := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC) // Thursday
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	res := AvailableSlots(window(time.Thursday, "09:00", "11:00"), 30, 15, date, clocks("09:45"), now)
	assert.Equal(t, clocks("09:00", "10:30"), res.Open)
	assert.Equal(t, clocks("09:45"), res.Taken)
}

func TestAvailableSlotsNoWindow(t *testing.T) {
	date := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	now := date

	assert.Empty(t, AvailableSlots(nil, 30, 0, date, nil, now).Open)

	res := AvailableSlots(window(time.Monday, "09:00", "17:00"), 30, 0, date, nil, now)
	assert.Empty(t, res.Open)
	assert.Empty(t, res.Taken)
}

func TestAvailableSlotsZeroDuration(t *testing.T) {
	date := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	res := AvailableSlots(window(time.Thursday, "09:00", "17:00"), 0, 15, date, nil, date)
	assert.Empty(t, res.Open)
}

func TestAvailableSlotsExcludesPastOnlyToday(t *testing.T) {
	today := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) // Wednesday
	tomorrow := today.AddDate(0, 0, 1)
	now := time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC)

	sameDay := AvailableSlots(window(time.Wednesday, "12:00", "16:00"), 30, 0, today, nil, now)
	assert.NotContains(t, sameDay.Open, calendar.MustParseClock("13:30"))
	assert.NotContains(t, sameDay.Open, calendar.MustParseClock("14:00"))
	assert.Equal(t, clocks("14:30", "15:00", "15:30"), sameDay.Open)

	nextDay := AvailableSlots(window(time.Thursday, "12:00", "16:00"), 30, 0, tomorrow, nil, now)
	assert.Contains(t, nextDay.Open, calendar.MustParseClock("13:30"))
}

func TestAvailableSlotsPastTakenAlsoDropped(t *testing.T) {
	today := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 10, 14, 12, 10, 0, 0, time.UTC)

	res := AvailableSlots(window(time.Wednesday, "12:00", "13:00"), 30, 0, today, clocks("12:00", "12:30"), now)
	assert.Empty(t, res.Open)
	assert.Equal(t, clocks("12:30"), res.Taken)
}

func TestAvailableSlotsUsesDateLocation(t *testing.T) {
	ny := time.FixedZone("EDT", -4*60*60)
	date := time.Date(2026, 10, 14, 0, 0, 0, 0, ny)
	// 17:00 UTC is 13:00 in New York.
	now := time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC)

	res := AvailableSlots(window(time.Wednesday, "12:00", "14:00"), 30, 0, date, nil, now)
	assert.Equal(t, clocks("13:30"), res.Open)
}

func TestAvailableSlotsIdempotent(t *testing.T) {
	date := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 10, 14, 10, 5, 0, 0, time.UTC)
	occupied := clocks("11:15", "12:45")
	win := window(time.Wednesday, "09:00", "17:00")

	first := AvailableSlots(win, 30, 15, date, occupied, now)
	second := AvailableSlots(win, 30, 15, date, occupied, now)
	assert.Equal(t, first, second)
	assert.Equal(t, clocks("11:15", "12:45"), occupied)
}
