// Package model defines the core domain types for event capacity and
// registration-eligibility management.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceStatus is the closed set of participation states.
type AttendanceStatus string

const (
	// StatusActive counts toward the event's participant counter.
	StatusActive AttendanceStatus = "active"
	// StatusCancelled does not count toward the counter.
	StatusCancelled AttendanceStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s AttendanceStatus) Valid() bool {
	return s == StatusActive || s == StatusCancelled
}

// Counts reports whether a participation in this status occupies a seat.
func (s AttendanceStatus) Counts() bool {
	return s != StatusCancelled
}

// Event represents a capacity-bounded resource participants register for.
type Event struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	MaxParticipants      *int       `json:"max_participants"` // nil means unbounded
	CurrentParticipants  int        `json:"current_participants"`
	RegistrationOpen     bool       `json:"registration_open"`
	RegistrationDeadline *time.Time `json:"registration_deadline"`
	CreatedAt            time.Time  `json:"created_at"`
}

// IsFull returns true when a maximum is set and no seats remain.
// An event without a maximum is never full.
func (e *Event) IsFull() bool {
	return e.MaxParticipants != nil && e.CurrentParticipants >= *e.MaxParticipants
}

// Remaining returns the number of available seats, or -1 when unbounded.
func (e *Event) Remaining() int {
	if e.MaxParticipants == nil {
		return -1
	}
	if r := *e.MaxParticipants - e.CurrentParticipants; r > 0 {
		return r
	}
	return 0
}

// Participation represents one participant's registration for one event.
// ParticipantData is an opaque profile snapshot taken at registration time;
// this core stores it verbatim and never interprets it.
type Participation struct {
	ID               string           `json:"id"`
	EventID          string           `json:"event_id"`
	ParticipantID    string           `json:"participant_id"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	ParticipantData  json.RawMessage  `json:"participant_data,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	MaxParticipants      *int       `json:"max_participants"`
	RegistrationOpen     *bool      `json:"registration_open"` // defaults to true
	RegistrationDeadline *time.Time `json:"registration_deadline"`
}

// UpdateRegistrationRequest adjusts an event's admission settings.
// Pointer fields distinguish "leave unchanged" from an explicit value;
// ClearDeadline/ClearMax remove the optional fields entirely.
type UpdateRegistrationRequest struct {
	RegistrationOpen     *bool      `json:"registration_open"`
	RegistrationDeadline *time.Time `json:"registration_deadline"`
	ClearDeadline        bool       `json:"clear_deadline"`
	MaxParticipants      *int       `json:"max_participants"`
	ClearMax             bool       `json:"clear_max"`
}

// RegisterRequest is the payload for registering for an event.
// ParticipantID arrives already resolved by the caller's identity layer.
type RegisterRequest struct {
	ParticipantID   string          `json:"participant_id"`
	ParticipantData json.RawMessage `json:"participant_data,omitempty"`
}

// CancelRequest is the payload for cancelling a registration.
type CancelRequest struct {
	ParticipantID string `json:"participant_id"`
}

// CapacityResponse reports an event's live counter state.
type CapacityResponse struct {
	EventID             string `json:"event_id"`
	CurrentParticipants int    `json:"current_participants"`
	MaxParticipants     *int   `json:"max_participants"`
	Full                bool   `json:"full"`
}

// RegistrationOpenResponse answers "can anyone register right now?".
// Reason is empty when open.
type RegistrationOpenResponse struct {
	EventID string `json:"event_id"`
	Open    bool   `json:"open"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidateMax rejects non-positive maximums; nil means unbounded and is fine.
func ValidateMax(max *int) error {
	if max != nil && *max <= 0 {
		return fmt.Errorf("max_participants must be a positive integer or null")
	}
	return nil
}
