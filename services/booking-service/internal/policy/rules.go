// Package policy holds the business rules of the salon: where it is, when it
// is open and which optional booking behaviours are switched on.
package policy

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day in minutes after midnight.
type Clock int

func ParseClock(raw string) (Clock, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", raw)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at clock c on the calendar day of day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

// DensityThresholds are the minimum appointment counts for each bucket.
type DensityThresholds struct {
	Low    int
	Medium int
	High   int
}

type Rules struct {
	Location       *time.Location
	Open           Clock
	Close          Clock
	SlotStep       time.Duration
	StrictGroomer  bool
	PreventOverlap bool
	Density        DensityThresholds
}

func Default() Rules {
	return Rules{
		Location: time.UTC,
		Open:     9 * 60,
		Close:    17 * 60,
		SlotStep: 30 * time.Minute,
		Density:  DensityThresholds{Low: 1, Medium: 3, High: 6},
	}
}

func (r Rules) Validate() error {
	if r.Location == nil {
		return fmt.Errorf("timezone is required")
	}
	if r.Close <= r.Open {
		return fmt.Errorf("business hours: close %s must be after open %s", r.Close, r.Open)
	}
	if r.SlotStep <= 0 {
		return fmt.Errorf("slot step must be positive")
	}
	d := r.Density
	if d.Low < 1 || d.Medium <= d.Low || d.High <= d.Medium {
		return fmt.Errorf("density thresholds must be increasing and start at 1 or more (got %d/%d/%d)", d.Low, d.Medium, d.High)
	}
	return nil
}

// Day returns midnight of t's calendar day in the business timezone.
func (r Rules) Day(t time.Time) time.Time {
	y, m, d := t.In(r.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.Location)
}

// SameDay reports whether a and b fall on the same business calendar day.
func (r Rules) SameDay(a, b time.Time) bool {
	return r.Day(a).Equal(r.Day(b))
}

// ParseDate parses YYYY-MM-DD as midnight in the business timezone.
func (r Rules) ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", raw, r.Location)
}
