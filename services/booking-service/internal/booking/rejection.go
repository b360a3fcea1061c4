package booking

import (
	"errors"
	"fmt"
)

// Kind classifies an expected, caller-correctable refusal.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindOwnership         Kind = "ownership"
	KindInvalidTransition Kind = "invalid_transition"
	KindAssignment        Kind = "assignment"
)

// Guards named in rejections.
const (
	GuardRequest         = "request"
	GuardFutureStart     = "future_start"
	GuardPetOwner        = "pet_owner"
	GuardCaller          = "caller"
	GuardTerminal        = "terminal"
	GuardAssignedStaff   = "assigned_staff"
	GuardSameDay         = "same_day"
	GuardDurationElapsed = "duration_elapsed"
	GuardCancelNotice    = "cancel_notice"
	GuardGroomer         = "groomer"
)

// Rejection is returned when a guard refuses an operation. Any other error
// from this package is a fault and nothing was written.
type Rejection struct {
	Kind   Kind
	Guard  string
	Reason string
	// Entity names the missing record for KindNotFound.
	Entity string
	// MinutesRemaining is set when completion was attempted too early.
	MinutesRemaining int
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

// AsRejection unwraps err into a Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func validation(guard, format string, args ...any) *Rejection {
	return &Rejection{Kind: KindValidation, Guard: guard, Reason: fmt.Sprintf(format, args...)}
}

func notFound(entity, id string) *Rejection {
	return &Rejection{Kind: KindNotFound, Entity: entity, Reason: fmt.Sprintf("%s %s not found", entity, id)}
}

func ownership(guard, format string, args ...any) *Rejection {
	return &Rejection{Kind: KindOwnership, Guard: guard, Reason: fmt.Sprintf(format, args...)}
}

func invalidTransition(guard, format string, args ...any) *Rejection {
	return &Rejection{Kind: KindInvalidTransition, Guard: guard, Reason: fmt.Sprintf(format, args...)}
}
