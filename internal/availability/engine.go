// Package availability derives bookable slots from weekly staff windows and
// existing bookings.
package availability

import (
	"time"

	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
)

// Result partitions a day's candidate slots.
type Result struct {
	Open  []calendar.Clock `json:"open"`
	Taken []calendar.Clock `json:"taken"`
}

// AvailableSlots computes the open and taken slots for one staff window on
// date. Occupied times come from pending or confirmed bookings. When date is
// now's date, slots at or before now are dropped. The function is pure.
func AvailableSlots(window *catalog.Availability, durationMinutes, bufferMinutes int, date time.Time, occupied []calendar.Clock, now time.Time) Result {
	if window == nil || window.Weekday != date.Weekday() {
		return Result{}
	}

	taken := make(map[calendar.Clock]bool, len(occupied))
	for _, c := range occupied {
		taken[c] = true
	}

	now = now.In(date.Location())
	cutoff := calendar.Clock(-1)
	if calendar.SameDate(date, now) {
		cutoff = calendar.ClockOf(now)
	}

	var res Result
	for _, slot := range calendar.SlotsInWindow(window.Start, window.End, durationMinutes, bufferMinutes) {
		if slot <= cutoff {
			continue
		}
		if taken[slot] {
			res.Taken = append(res.Taken, slot)
		} else {
			res.Open = append(res.Open, slot)
		}
	}
	return res
}
