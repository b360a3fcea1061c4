package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusConfirmed Status = "Confirmed"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// ParseStatus accepts any casing ("cancelled", "CONFIRMED").
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirmed":
		return StatusConfirmed, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown appointment status %q", raw)
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	ID             string
	CustomerID     string
	PetID          string
	ServiceID      string
	StaffID        string // empty when unassigned
	ScheduledAt    time.Time
	DurationMins   int
	SpecialRequest string
	Status         Status
	CancelReason   string
	CancelledAt    *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// EndsAt is derived from the service duration; appointments store no end time.
func (a Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMins) * time.Minute)
}

func (a Appointment) StaffLabel() string {
	if a.StaffID == "" {
		return "Not assigned"
	}
	return a.StaffID
}

const AppointmentIDPrefix = "AP"

// FormatAppointmentID renders seq as AP001, AP002, ... widening past 999.
func FormatAppointmentID(seq int64) string {
	return fmt.Sprintf("%s%03d", AppointmentIDPrefix, seq)
}

// AppointmentSeq extracts the numeric suffix of an appointment ID.
func AppointmentSeq(id string) (int64, bool) {
	if !strings.HasPrefix(id, AppointmentIDPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(id[len(AppointmentIDPrefix):], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
