// Package assignment picks the groomer for a new appointment.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/availability"
	"github.com/groombook/groombook/services/booking-service/internal/model"
)

// Directory is the staff lookup the policy needs.
type Directory interface {
	GetStaff(ctx context.Context, id string) (model.Staff, error)
	ListStaff(ctx context.Context) ([]model.Staff, error)
	// StaffAppointments returns non-cancelled appointments of a groomer that
	// start in [from, to).
	StaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]model.Appointment, error)
}

// Policy controls how strictly a groomer is resolved.
//
// With Strict unset an explicit groomer that cannot be resolved leaves the
// appointment unassigned. PreventOverlap makes the policy refuse groomers who
// already have a confirmed appointment overlapping the requested slot.
type Policy struct {
	Strict         bool
	PreventOverlap bool
}

type Request struct {
	StaffID  string // empty means any available groomer
	Start    time.Time
	Duration time.Duration
}

// Error reports an explicit groomer that could not be assigned.
type Error struct {
	StaffID string
	Reason  string
}

func (e *Error) Error() string {
	if e.StaffID == "" {
		return "assignment: " + e.Reason
	}
	return fmt.Sprintf("assignment: groomer %s: %s", e.StaffID, e.Reason)
}

// longest appointment considered when scanning for overlaps
const maxAppointmentSpan = 24 * time.Hour

// Assign returns the staff ID for the request, or "" when it stays unassigned.
func (p Policy) Assign(ctx context.Context, dir Directory, req Request) (string, error) {
	if req.StaffID != "" {
		return p.assignExplicit(ctx, dir, req)
	}
	return p.assignAny(ctx, dir, req)
}

func (p Policy) assignExplicit(ctx context.Context, dir Directory, req Request) (string, error) {
	staff, err := dir.GetStaff(ctx, req.StaffID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		if p.Strict {
			return "", &Error{StaffID: req.StaffID, Reason: "groomer not found"}
		}
		return "", nil
	case err != nil:
		return "", fmt.Errorf("get staff: %w", err)
	}
	if staff.Role != model.RoleStaff {
		if p.Strict {
			return "", &Error{StaffID: req.StaffID, Reason: "not an assignable groomer"}
		}
		return "", nil
	}
	if p.PreventOverlap {
		busy, err := p.busy(ctx, dir, staff.ID, req)
		if err != nil {
			return "", err
		}
		if busy {
			return "", &Error{StaffID: staff.ID, Reason: "groomer already booked for this time"}
		}
	}
	return staff.ID, nil
}

func (p Policy) assignAny(ctx context.Context, dir Directory, req Request) (string, error) {
	all, err := dir.ListStaff(ctx)
	if err != nil {
		return "", fmt.Errorf("list staff: %w", err)
	}
	groomers := make([]model.Staff, 0, len(all))
	for _, s := range all {
		if s.Role == model.RoleStaff {
			groomers = append(groomers, s)
		}
	}
	sort.Slice(groomers, func(i, j int) bool { return groomers[i].ID < groomers[j].ID })

	for _, g := range groomers {
		if !p.PreventOverlap {
			return g.ID, nil
		}
		busy, err := p.busy(ctx, dir, g.ID, req)
		if err != nil {
			return "", err
		}
		if !busy {
			return g.ID, nil
		}
	}
	if p.PreventOverlap && len(groomers) > 0 {
		return "", &Error{Reason: "no groomer available for this time"}
	}
	return "", nil
}

func (p Policy) busy(ctx context.Context, dir Directory, staffID string, req Request) (bool, error) {
	slot := availability.Interval{Start: req.Start, End: req.Start.Add(req.Duration)}
	appts, err := dir.StaffAppointments(ctx, staffID, req.Start.Add(-maxAppointmentSpan), slot.End)
	if err != nil {
		return false, fmt.Errorf("list staff appointments: %w", err)
	}
	for _, a := range appts {
		if a.Status != model.StatusConfirmed {
			continue
		}
		if slot.Overlaps(availability.Interval{Start: a.ScheduledAt, End: a.EndsAt()}) {
			return true, nil
		}
	}
	return false, nil
}
