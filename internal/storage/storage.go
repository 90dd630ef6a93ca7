// Package storage defines the persistence interfaces for events and
// participations, along with the sentinel errors shared by all backends.
package storage

import (
	"context"
	"errors"

	"github.com/talentstage/event-registration/internal/model"
)

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("event not found")

// ErrParticipationNotFound is returned when a requested participation
// record does not exist.
var ErrParticipationNotFound = errors.New("participation not found")

// ErrEventFull is returned by Counter.Apply when a positive delta would
// push the counter past the event's maximum. The check happens at write
// time against the stored value, not against an earlier read.
var ErrEventFull = errors.New("event is full")

// ErrBusy is returned when the per-event serialization point could not be
// acquired within the bounded wait. The operation left no partial state
// and is safe to retry.
var ErrBusy = errors.New("event is busy, retry")

// Counter applies atomic deltas to an event's participant counter.
// Implementations must express the delta relative to the stored value
// (never read-then-write of a cached count) and hold the counter within
// [0, max].
type Counter interface {
	// Apply adds delta to the event's current_participants. Increments
	// fail with ErrEventFull when the stored count has already reached the
	// maximum; decrements floor at zero.
	Apply(ctx context.Context, eventID string, delta int) error
}

// UnitOfWork is the handle passed to a WithEvent callback. Every method
// operates inside the same transaction (or equivalent critical section),
// with the event row locked for its duration: either all writes commit
// together or none do.
type UnitOfWork interface {
	Counter

	// Event returns the locked snapshot of the event row.
	Event() *model.Event

	// FindParticipation returns the participant's record for this event in
	// any status, or ErrParticipationNotFound.
	FindParticipation(ctx context.Context, participantID string) (*model.Participation, error)

	// InsertParticipation persists a new participation record.
	InsertParticipation(ctx context.Context, p *model.Participation) error

	// UpdateStatus sets the participation's attendance status.
	UpdateStatus(ctx context.Context, participationID string, status model.AttendanceStatus) error

	// UpdateParticipantData replaces the stored profile snapshot.
	UpdateParticipantData(ctx context.Context, participationID string, data []byte) error

	// DeleteParticipation removes the record outright and returns it as it
	// was at deletion time, or ErrParticipationNotFound.
	DeleteParticipation(ctx context.Context, participationID string) (*model.Participation, error)

	// Recount overwrites the counter with the true count of non-cancelled
	// participations for this event.
	Recount(ctx context.Context) (int, error)

	// UpdateSettings persists new admission settings on the event row.
	UpdateSettings(ctx context.Context, ev *model.Event) error
}

// Store is the persistence surface consumed by the registration service.
type Store interface {
	// CreateEvent persists a new event.
	CreateEvent(ctx context.Context, ev *model.Event) error

	// GetEvent returns an event snapshot or ErrNotFound.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// ListEvents returns all events, newest first.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// ListEventIDs returns the IDs of all events, for administrative sweeps.
	ListEventIDs(ctx context.Context) ([]string, error)

	// ListParticipations returns all participations for an event, oldest
	// first, in any status.
	ListParticipations(ctx context.Context, eventID string) ([]model.Participation, error)

	// FindParticipationByID resolves a participation record by its own ID,
	// outside any event lock, or ErrParticipationNotFound.
	FindParticipationByID(ctx context.Context, participationID string) (*model.Participation, error)

	// WithEvent runs fn inside a unit of work that serializes all mutations
	// for eventID. Operations on different events proceed independently.
	// The wait for the serialization point is bounded; ErrBusy is returned
	// when it expires. Any error from fn rolls back every write made
	// through the UnitOfWork.
	WithEvent(ctx context.Context, eventID string, fn func(uow UnitOfWork) error) error
}
