// Package ledger keeps an event's denormalized participant counter
// synchronized with the true count of non-cancelled participations.
//
// The counter logic the original system buried in database triggers lives
// here as explicit, unit-testable methods. The ledger decides *whether* a
// lifecycle change moves the counter and by how much; *applying* the delta
// atomically is the storage.Counter's job, inside the same unit of work as
// the participation write. If the counter update fails, the whole unit of
// work fails with it, so counter and participations never diverge.
package ledger

import (
	"context"

	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/storage"
)

// Ledger maps participation lifecycle changes to counter deltas.
// The zero value is ready to use.
type Ledger struct{}

// New returns a Ledger.
func New() *Ledger {
	return &Ledger{}
}

// creationDelta is the counter effect of inserting a participation with
// the given initial status.
func creationDelta(initial model.AttendanceStatus) int {
	if initial.Counts() {
		return 1
	}
	return 0
}

// deletionDelta is the counter effect of hard-deleting a participation
// that held the given status.
func deletionDelta(atDeletion model.AttendanceStatus) int {
	if atDeletion.Counts() {
		return -1
	}
	return 0
}

// transitionDelta is the counter effect of a status change. Only crossing
// the cancelled boundary moves the counter; a transition between two
// counting statuses (should the enumeration ever widen) must not touch it.
func transitionDelta(old, new model.AttendanceStatus) int {
	switch {
	case old.Counts() && !new.Counts():
		return -1
	case !old.Counts() && new.Counts():
		return 1
	default:
		return 0
	}
}

// OnParticipationCreated applies the counter effect of a new participation.
// An increment is conditional at write time: it fails with
// storage.ErrEventFull when the event has no seat left, which must abort
// the insert it accompanies.
func (l *Ledger) OnParticipationCreated(ctx context.Context, c storage.Counter, eventID string, initial model.AttendanceStatus) error {
	return l.apply(ctx, c, eventID, creationDelta(initial))
}

// OnParticipationDeleted applies the counter effect of a hard delete.
func (l *Ledger) OnParticipationDeleted(ctx context.Context, c storage.Counter, eventID string, atDeletion model.AttendanceStatus) error {
	return l.apply(ctx, c, eventID, deletionDelta(atDeletion))
}

// OnStatusChanged applies the counter effect of a status transition.
func (l *Ledger) OnStatusChanged(ctx context.Context, c storage.Counter, eventID string, old, new model.AttendanceStatus) error {
	return l.apply(ctx, c, eventID, transitionDelta(old, new))
}

func (l *Ledger) apply(ctx context.Context, c storage.Counter, eventID string, delta int) error {
	if delta == 0 {
		return nil
	}
	return c.Apply(ctx, eventID, delta)
}
