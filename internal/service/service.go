// Package service implements the registration operation surface: the only
// entry point through which participations are created, cancelled, or
// deleted. It sequences eligibility evaluation, the participation write,
// and the ledger delta inside one storage unit of work, so all three
// commit or roll back together.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentstage/event-registration/internal/eligibility"
	"github.com/talentstage/event-registration/internal/ledger"
	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/storage"
)

// ErrAlreadyRegistered is returned when the participant already holds an
// active registration for the event.
var ErrAlreadyRegistered = errors.New("already registered for this event")

// ErrNotRegistered is returned when a cancel targets a participant with no
// registration for the event.
var ErrNotRegistered = errors.New("not registered for this event")

// RegistrationClosedError denies admission with the condition that failed.
type RegistrationClosedError struct {
	Reason eligibility.Reason
}

func (e *RegistrationClosedError) Error() string {
	return e.Reason.Message()
}

// IsRegistrationClosed reports whether err is an admission denial.
func IsRegistrationClosed(err error) bool {
	var rc *RegistrationClosedError
	return errors.As(err, &rc)
}

// RegistrationService owns the event/participation lifecycle.
type RegistrationService struct {
	store  storage.Store
	ledger *ledger.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a RegistrationService.
func New(store storage.Store, logger *slog.Logger) *RegistrationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationService{
		store:  store,
		ledger: ledger.New(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Deadline tests use this.
func (s *RegistrationService) WithClock(now func() time.Time) *RegistrationService {
	s.now = now
	return s
}

// CreateEvent validates the request and persists a new event.
func (s *RegistrationService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}
	if err := model.ValidateMax(req.MaxParticipants); err != nil {
		return nil, err
	}

	open := true
	if req.RegistrationOpen != nil {
		open = *req.RegistrationOpen
	}
	ev := &model.Event{
		ID:                   uuid.New().String(),
		Name:                 req.Name,
		Description:          req.Description,
		MaxParticipants:      req.MaxParticipants,
		CurrentParticipants:  0,
		RegistrationOpen:     open,
		RegistrationDeadline: req.RegistrationDeadline,
		CreatedAt:            s.now(),
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

// GetEvent returns a single event by ID.
func (s *RegistrationService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required")
	}
	return s.store.GetEvent(ctx, id)
}

// ListEvents returns all events.
func (s *RegistrationService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// ListParticipations returns all participations for an event.
func (s *RegistrationService) ListParticipations(ctx context.Context, eventID string) ([]model.Participation, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListParticipations(ctx, eventID)
}

// UpdateRegistrationSettings adjusts an event's admission settings under
// the event lock. Lowering the maximum below the current headcount is
// rejected, since it would make the counter invariant unsatisfiable.
func (s *RegistrationService) UpdateRegistrationSettings(ctx context.Context, eventID string, req model.UpdateRegistrationRequest) (*model.Event, error) {
	if req.MaxParticipants != nil {
		if err := model.ValidateMax(req.MaxParticipants); err != nil {
			return nil, err
		}
	}
	var updated *model.Event
	err := s.store.WithEvent(ctx, eventID, func(uow storage.UnitOfWork) error {
		ev := uow.Event()
		if req.RegistrationOpen != nil {
			ev.RegistrationOpen = *req.RegistrationOpen
		}
		switch {
		case req.ClearDeadline:
			ev.RegistrationDeadline = nil
		case req.RegistrationDeadline != nil:
			ev.RegistrationDeadline = req.RegistrationDeadline
		}
		switch {
		case req.ClearMax:
			ev.MaxParticipants = nil
		case req.MaxParticipants != nil:
			if *req.MaxParticipants < ev.CurrentParticipants {
				return fmt.Errorf("max_participants %d is below the current headcount %d",
					*req.MaxParticipants, ev.CurrentParticipants)
			}
			ev.MaxParticipants = req.MaxParticipants
		}
		if err := uow.UpdateSettings(ctx, ev); err != nil {
			return err
		}
		updated = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Register creates (or reactivates) an active participation for the
// participant, provided registration is currently open.
//
// The eligibility check runs on the snapshot read under the event lock,
// and the ledger increment re-checks capacity at write time. Two requests
// that both saw a free seat cannot both commit: the loser's increment
// affects no rows and the whole attempt rolls back as a denial.
func (s *RegistrationService) Register(ctx context.Context, eventID, participantID string, participantData []byte) (*model.Participation, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if participantID == "" {
		return nil, fmt.Errorf("participant id is required")
	}

	var created *model.Participation
	err := s.store.WithEvent(ctx, eventID, func(uow storage.UnitOfWork) error {
		ev := uow.Event()
		if d := eligibility.Evaluate(ev, s.now()); !d.Open {
			s.logger.Debug("registration denied",
				"event_id", eventID, "participant_id", participantID, "reason", string(d.Reason))
			return &RegistrationClosedError{Reason: d.Reason}
		}

		existing, err := uow.FindParticipation(ctx, participantID)
		switch {
		case err == nil && existing.AttendanceStatus == model.StatusActive:
			return ErrAlreadyRegistered
		case err == nil:
			// A cancelled record exists: reactivate it rather than
			// inserting a second row for the same (event, participant).
			if err := uow.UpdateStatus(ctx, existing.ID, model.StatusActive); err != nil {
				return err
			}
			if len(participantData) > 0 {
				if err := uow.UpdateParticipantData(ctx, existing.ID, participantData); err != nil {
					return err
				}
				existing.ParticipantData = participantData
			}
			if err := s.ledger.OnStatusChanged(ctx, uow, eventID, existing.AttendanceStatus, model.StatusActive); err != nil {
				return s.mapCounterErr(err)
			}
			existing.AttendanceStatus = model.StatusActive
			created = existing
			return nil
		case !errors.Is(err, storage.ErrParticipationNotFound):
			return err
		}

		now := s.now()
		p := &model.Participation{
			ID:               uuid.New().String(),
			EventID:          eventID,
			ParticipantID:    participantID,
			AttendanceStatus: model.StatusActive,
			ParticipantData:  participantData,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := uow.InsertParticipation(ctx, p); err != nil {
			return err
		}
		if err := s.ledger.OnParticipationCreated(ctx, uow, eventID, p.AttendanceStatus); err != nil {
			return s.mapCounterErr(err)
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// mapCounterErr turns a write-time capacity rejection into the same denial
// the eligibility check would have produced a moment earlier.
func (s *RegistrationService) mapCounterErr(err error) error {
	if errors.Is(err, storage.ErrEventFull) {
		return &RegistrationClosedError{Reason: eligibility.ReasonFull}
	}
	return err
}

// Cancel sets the participant's registration to cancelled and releases
// the seat. Cancelling an already-cancelled registration is a no-op
// success; a participant with no record at all gets ErrNotRegistered.
func (s *RegistrationService) Cancel(ctx context.Context, eventID, participantID string) error {
	if eventID == "" || participantID == "" {
		return fmt.Errorf("event id and participant id are required")
	}
	return s.store.WithEvent(ctx, eventID, func(uow storage.UnitOfWork) error {
		p, err := uow.FindParticipation(ctx, participantID)
		if err != nil {
			if errors.Is(err, storage.ErrParticipationNotFound) {
				return ErrNotRegistered
			}
			return err
		}
		if p.AttendanceStatus == model.StatusCancelled {
			return nil
		}
		if err := uow.UpdateStatus(ctx, p.ID, model.StatusCancelled); err != nil {
			return err
		}
		return s.releaseSeat(ctx, uow, eventID, func() error {
			return s.ledger.OnStatusChanged(ctx, uow, eventID, p.AttendanceStatus, model.StatusCancelled)
		})
	})
}

// Delete removes a participation record outright. This is an
// administrative data-correction operation, distinct from cancellation:
// the record disappears, and the seat is released only if the record still
// counted toward the headcount.
func (s *RegistrationService) Delete(ctx context.Context, participationID string) error {
	if participationID == "" {
		return fmt.Errorf("participation id is required")
	}
	ref, err := s.store.FindParticipationByID(ctx, participationID)
	if err != nil {
		return err
	}
	return s.store.WithEvent(ctx, ref.EventID, func(uow storage.UnitOfWork) error {
		// Re-read under the lock; the record may have changed or vanished
		// since the unlocked lookup.
		p, err := uow.DeleteParticipation(ctx, participationID)
		if err != nil {
			return err
		}
		if !p.AttendanceStatus.Counts() {
			// No seat held; the ledger call below is a no-op by its own
			// transition table, and the drift check does not apply.
			return s.ledger.OnParticipationDeleted(ctx, uow, ref.EventID, p.AttendanceStatus)
		}
		return s.releaseSeat(ctx, uow, ref.EventID, func() error {
			return s.ledger.OnParticipationDeleted(ctx, uow, ref.EventID, p.AttendanceStatus)
		})
	})
}

// releaseSeat runs a ledger operation that will decrement the counter. A
// release that finds the locked counter already at zero means the counter
// has drifted from the participation rows; that is logged as an
// inconsistency and repaired by an in-transaction recount instead of
// floored silently.
func (s *RegistrationService) releaseSeat(ctx context.Context, uow storage.UnitOfWork, eventID string, op func() error) error {
	if uow.Event().CurrentParticipants == 0 {
		s.logger.Error("ledger inconsistency: counter at zero while releasing a seat",
			"event_id", eventID)
		count, err := uow.Recount(ctx)
		if err != nil {
			return err
		}
		s.logger.Warn("counter reconciled", "event_id", eventID, "current_participants", count)
		return nil
	}
	return op()
}

// IsRegistrationOpen evaluates eligibility from a fresh snapshot.
func (s *RegistrationService) IsRegistrationOpen(ctx context.Context, eventID string) (eligibility.Decision, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return eligibility.Decision{}, err
	}
	return eligibility.Evaluate(ev, s.now()), nil
}

// ParticipantCount returns the event's current non-cancelled headcount.
func (s *RegistrationService) ParticipantCount(ctx context.Context, eventID string) (int, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return ev.CurrentParticipants, nil
}

// IsEventFull reports whether the event has reached its maximum.
func (s *RegistrationService) IsEventFull(ctx context.Context, eventID string) (bool, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	return ev.IsFull(), nil
}

// Reconcile recomputes one event's counter from its participation rows,
// atomically under the event lock. This is the authorized repair for
// counter drift.
func (s *RegistrationService) Reconcile(ctx context.Context, eventID string) (int, error) {
	var count int
	err := s.store.WithEvent(ctx, eventID, func(uow storage.UnitOfWork) error {
		before := uow.Event().CurrentParticipants
		c, err := uow.Recount(ctx)
		if err != nil {
			return err
		}
		if c != before {
			s.logger.Warn("counter drift repaired",
				"event_id", eventID, "stored", before, "actual", c)
		}
		count = c
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ReconcileAll sweeps every event, taking each event's lock in turn. An
// administrative, exclusive-access style operation, not something to run
// continuously alongside heavy write traffic.
func (s *RegistrationService) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.store.ListEventIDs(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if _, err := s.Reconcile(ctx, id); err != nil {
			return repaired, fmt.Errorf("reconcile event %s: %w", id, err)
		}
		repaired++
	}
	return repaired, nil
}
