package availability

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats both intervals as half-open: [a.Start,a.End) and [b.Start,b.End).
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals. Slots starting at or before
// now are skipped; grooming bookings must be strictly in the future.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if !t.After(now) {
			continue
		}
		if !OverlapsAny(Interval{Start: t, End: t.Add(duration)}, busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func OverlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
