// Package eligibility answers "may anyone register for this event right
// now?" from an event snapshot. It is a pure read-side check: it never
// mutates state and is re-evaluated on every attempt, because both the
// counter and the deadline are time-varying.
package eligibility

import (
	"time"

	"github.com/talentstage/event-registration/internal/model"
)

// Reason identifies which condition denied admission.
type Reason string

const (
	// ReasonClosed means the organizer's registration_open flag is off.
	ReasonClosed Reason = "registration_closed"
	// ReasonDeadlinePassed means the registration deadline is behind us.
	ReasonDeadlinePassed Reason = "deadline_passed"
	// ReasonFull means the event has reached its maximum headcount.
	ReasonFull Reason = "event_full"
)

// Message returns a caller-facing description of the denial.
func (r Reason) Message() string {
	switch r {
	case ReasonClosed:
		return "registration is closed for this event"
	case ReasonDeadlinePassed:
		return "the registration deadline has passed"
	case ReasonFull:
		return "this event is full"
	default:
		return "registration is not possible"
	}
}

// Decision is the outcome of an eligibility evaluation.
type Decision struct {
	Open   bool
	Reason Reason // set only when Open is false
}

// Evaluate combines the open flag, the deadline, and fullness into a
// single admit/deny decision. The checks short-circuit in that order, so a
// closed event reports "closed" even when it is also full.
func Evaluate(e *model.Event, now time.Time) Decision {
	if !e.RegistrationOpen {
		return Decision{Reason: ReasonClosed}
	}
	if e.RegistrationDeadline != nil && now.After(*e.RegistrationDeadline) {
		return Decision{Reason: ReasonDeadlinePassed}
	}
	if e.IsFull() {
		return Decision{Reason: ReasonFull}
	}
	return Decision{Open: true}
}

// IsOpen is Evaluate reduced to a boolean.
func IsOpen(e *model.Event, now time.Time) bool {
	return Evaluate(e, now).Open
}
