// Package calendar answers the read-side questions of the booking calendar.
// It never writes and never caches, so it always reflects committed state.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/availability"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/policy"
	"github.com/groombook/groombook/services/booking-service/internal/storage"
)

// ErrInvalidInput marks a query that cannot be answered as asked.
var ErrInvalidInput = errors.New("invalid input")

type Bucket string

const (
	BucketNone   Bucket = "none"
	BucketLow    Bucket = "low"
	BucketMedium Bucket = "medium"
	BucketHigh   Bucket = "high"
)

type DayDensity struct {
	Date   time.Time
	Count  int
	Bucket Bucket
}

// MonthEntry is the lightweight projection used to draw a customer's month.
type MonthEntry struct {
	AppointmentID string
	ScheduledAt   time.Time
	Status        model.Status
}

// Slot is a bookable window for one service.
type Slot struct {
	Start time.Time
	End   time.Time
}

type Calendar struct {
	store storage.Reader
	rules policy.Rules
	now   func() time.Time
}

func New(store storage.Reader, rules policy.Rules, now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	return &Calendar{store: store, rules: rules, now: now}
}

func (c *Calendar) monthRange(year, month int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: month %d-%d", ErrInvalidInput, year, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, c.rules.Location)
	return start, start.AddDate(0, 1, 0), nil
}

func (c *Calendar) bucket(count int) Bucket {
	t := c.rules.Density
	switch {
	case count >= t.High:
		return BucketHigh
	case count >= t.Medium:
		return BucketMedium
	case count >= t.Low:
		return BucketLow
	default:
		return BucketNone
	}
}

// Density returns one entry per day of the month, counting appointments that
// are not cancelled.
func (c *Calendar) Density(ctx context.Context, year, month int) ([]DayDensity, error) {
	start, end, err := c.monthRange(year, month)
	if err != nil {
		return nil, err
	}
	appts, err := c.store.ListAppointments(ctx, storage.AppointmentFilter{From: start, To: end, ExcludeCancelled: true})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	counts := make(map[int]int)
	for _, a := range appts {
		counts[a.ScheduledAt.In(c.rules.Location).Day()]++
	}

	var out []DayDensity
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		n := counts[d.Day()]
		out = append(out, DayDensity{Date: d, Count: n, Bucket: c.bucket(n)})
	}
	return out, nil
}

// ForDate lists the actor's appointments on date, earliest first. Customers
// see the appointments they own, groomers the ones assigned to them and
// admins every appointment of the day.
func (c *Calendar) ForDate(ctx context.Context, actor model.Actor, date time.Time) ([]model.Appointment, error) {
	day := c.rules.Day(date)
	f := storage.AppointmentFilter{From: day, To: day.AddDate(0, 0, 1)}
	switch actor.Role {
	case model.RoleCustomer:
		f.CustomerID = actor.ID
	case model.RoleStaff:
		f.StaffID = actor.ID
	case model.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, actor.Role)
	}
	if actor.Role != model.RoleAdmin && actor.ID == "" {
		return nil, fmt.Errorf("%w: caller id is required", ErrInvalidInput)
	}
	appts, err := c.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// ForMonth returns the customer's appointments in the month, earliest first.
func (c *Calendar) ForMonth(ctx context.Context, customerID string, year, month int) ([]MonthEntry, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	start, end, err := c.monthRange(year, month)
	if err != nil {
		return nil, err
	}
	appts, err := c.store.ListAppointments(ctx, storage.AppointmentFilter{CustomerID: customerID, From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]MonthEntry, 0, len(appts))
	for _, a := range appts {
		out = append(out, MonthEntry{AppointmentID: a.ID, ScheduledAt: a.ScheduledAt, Status: a.Status})
	}
	return out, nil
}

// Slots lists the windows on date in which the groomer could take the
// service without overlapping a confirmed appointment, within business hours.
func (c *Calendar) Slots(ctx context.Context, staffID, serviceID string, date time.Time) ([]Slot, error) {
	staff, err := c.store.GetStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if staff.Role != model.RoleStaff {
		return nil, fmt.Errorf("staff %s: %w", staffID, model.ErrNotFound)
	}
	service, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	day := c.rules.Day(date)
	windowStart := c.rules.Open.On(day)
	windowEnd := c.rules.Close.On(day)

	appts, err := c.store.StaffAppointments(ctx, staffID, windowStart.Add(-24*time.Hour), windowEnd)
	if err != nil {
		return nil, fmt.Errorf("list staff appointments: %w", err)
	}
	busy := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		if a.Status != model.StatusConfirmed {
			continue
		}
		busy = append(busy, availability.Interval{Start: a.ScheduledAt, End: a.EndsAt()})
	}

	duration := time.Duration(service.DurationMins) * time.Minute
	starts := availability.AvailableSlots(windowStart, windowEnd, duration, c.rules.SlotStep, busy, c.now())
	out := make([]Slot, 0, len(starts))
	for _, s := range starts {
		out = append(out, Slot{Start: s, End: s.Add(duration)})
	}
	return out, nil
}
