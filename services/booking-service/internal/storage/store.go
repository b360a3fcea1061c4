// Package storage persists appointments, the loyalty balance and outbox events,
// and answers the directory lookups the booking core needs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
)

// ErrDuplicateID is returned by InsertAppointment when the ID is already taken,
// typically by rows loaded behind the sequence's back.
var ErrDuplicateID = errors.New("storage: duplicate appointment id")

// AppointmentFilter selects appointments by owner or assignee within
// [From, To) of the scheduled time. Zero values match everything.
type AppointmentFilter struct {
	CustomerID       string
	StaffID          string
	From             time.Time
	To               time.Time
	ExcludeCancelled bool
}

func (f AppointmentFilter) Match(a model.Appointment) bool {
	if f.CustomerID != "" && a.CustomerID != f.CustomerID {
		return false
	}
	if f.StaffID != "" && a.StaffID != f.StaffID {
		return false
	}
	if !f.From.IsZero() && a.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.ScheduledAt.Before(f.To) {
		return false
	}
	if f.ExcludeCancelled && a.Status == model.StatusCancelled {
		return false
	}
	return true
}

// Reader answers directory lookups and appointment queries. Lookups return an
// error wrapping model.ErrNotFound on a miss.
type Reader interface {
	GetCustomer(ctx context.Context, id string) (model.Customer, error)
	GetPet(ctx context.Context, id string) (model.Pet, error)
	GetService(ctx context.Context, id string) (model.Service, error)
	GetStaff(ctx context.Context, id string) (model.Staff, error)
	ListStaff(ctx context.Context) ([]model.Staff, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// ListAppointments returns matches ordered by scheduled time, then ID.
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	StaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]model.Appointment, error)
}

// Tx is a unit of work. Nothing written through it is visible to other
// readers until the surrounding InTx returns nil.
type Tx interface {
	Reader
	// GetAppointmentForUpdate locks the row until the transaction ends.
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	// NextAppointmentSeq advances the appointment ID sequence.
	NextAppointmentSeq(ctx context.Context) (int64, error)
	// ResyncAppointmentSeq moves the sequence past the highest stored
	// appointment ID and returns the next value.
	ResyncAppointmentSeq(ctx context.Context) (int64, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	UpdateAppointment(ctx context.Context, appt model.Appointment) error
	SetLoyaltyPoints(ctx context.Context, customerID string, points int) error
	RecordEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(Tx) error) error
}
