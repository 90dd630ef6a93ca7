// Package memory implements the storage interfaces in process memory.
//
// It backs the test suite and local development runs (STORE=memory). The
// serialization point is one lock per event, held for the whole unit of
// work. It is the arena-lock equivalent of the postgres backend's row lock.
// The unit of work mutates a copy of the event's state and publishes it
// only on success, so a failing callback rolls back like a transaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/storage"
)

// DefaultLockWait bounds how long WithEvent waits for an event's lock
// when the caller's context has no earlier deadline.
const DefaultLockWait = 5 * time.Second

// Store is the in-memory storage.Store.
type Store struct {
	mu       sync.Mutex
	events   map[string]*eventRecord
	lockWait time.Duration
}

type eventRecord struct {
	lock  chan struct{} // 1-buffered; holding the token is holding the lock
	event model.Event
	parts map[string]model.Participation // by participation ID
}

// New constructs an empty Store.
func New(lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Store{
		events:   make(map[string]*eventRecord),
		lockWait: lockWait,
	}
}

func (s *Store) record(id string) (*eventRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	return rec, ok
}

// CreateEvent stores a new event.
func (s *Store) CreateEvent(ctx context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &eventRecord{
		lock:  make(chan struct{}, 1),
		event: *ev,
		parts: make(map[string]model.Participation),
	}
	rec.lock <- struct{}{}
	s.events[ev.ID] = rec
	return nil
}

// GetEvent returns a snapshot of the event or storage.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	ev := cloneEvent(rec.event)
	return &ev, nil
}

// ListEvents returns all events, newest first.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.Event, 0, len(s.events))
	for _, rec := range s.events {
		events = append(events, cloneEvent(rec.event))
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

// ListEventIDs returns all event IDs in creation order.
func (s *Store) ListEventIDs(ctx context.Context) ([]string, error) {
	events, err := s.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ids = append(ids, events[i].ID)
	}
	return ids, nil
}

// ListParticipations returns an event's participations, oldest first.
func (s *Store) ListParticipations(ctx context.Context, eventID string) ([]model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[eventID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	parts := make([]model.Participation, 0, len(rec.parts))
	for _, p := range rec.parts {
		parts = append(parts, cloneParticipation(p))
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].CreatedAt.Before(parts[j].CreatedAt)
	})
	return parts, nil
}

// FindParticipationByID scans all events for the participation record.
func (s *Store) FindParticipationByID(ctx context.Context, participationID string) (*model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.events {
		if p, ok := rec.parts[participationID]; ok {
			cp := cloneParticipation(p)
			return &cp, nil
		}
	}
	return nil, storage.ErrParticipationNotFound
}

// WithEvent acquires the event's lock (bounded wait), runs fn against a
// working copy, and publishes the copy only when fn succeeds.
func (s *Store) WithEvent(ctx context.Context, eventID string, fn func(uow storage.UnitOfWork) error) error {
	rec, ok := s.record(eventID)
	if !ok {
		return storage.ErrNotFound
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()
	select {
	case <-rec.lock:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return storage.ErrBusy
	}
	defer func() { rec.lock <- struct{}{} }()

	s.mu.Lock()
	work := &unitOfWork{
		event: cloneEvent(rec.event),
		parts: make(map[string]model.Participation, len(rec.parts)),
	}
	for id, p := range rec.parts {
		work.parts[id] = cloneParticipation(p)
	}
	s.mu.Unlock()

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	rec.event = work.event
	rec.parts = work.parts
	s.mu.Unlock()
	return nil
}

// unitOfWork is a mutable copy of one event's state.
type unitOfWork struct {
	event model.Event
	parts map[string]model.Participation
}

func (u *unitOfWork) Event() *model.Event {
	ev := cloneEvent(u.event)
	return &ev
}

// Apply moves the working copy's counter, guarding the maximum at write
// time and flooring decrements at zero.
func (u *unitOfWork) Apply(ctx context.Context, eventID string, delta int) error {
	if delta > 0 {
		if u.event.MaxParticipants != nil && u.event.CurrentParticipants+delta > *u.event.MaxParticipants {
			return storage.ErrEventFull
		}
		u.event.CurrentParticipants += delta
		return nil
	}
	if next := u.event.CurrentParticipants + delta; next > 0 {
		u.event.CurrentParticipants = next
	} else {
		u.event.CurrentParticipants = 0
	}
	return nil
}

func (u *unitOfWork) FindParticipation(ctx context.Context, participantID string) (*model.Participation, error) {
	for _, p := range u.parts {
		if p.ParticipantID == participantID {
			cp := cloneParticipation(p)
			return &cp, nil
		}
	}
	return nil, storage.ErrParticipationNotFound
}

func (u *unitOfWork) InsertParticipation(ctx context.Context, p *model.Participation) error {
	u.parts[p.ID] = cloneParticipation(*p)
	return nil
}

func (u *unitOfWork) UpdateStatus(ctx context.Context, participationID string, status model.AttendanceStatus) error {
	p, ok := u.parts[participationID]
	if !ok {
		return storage.ErrParticipationNotFound
	}
	p.AttendanceStatus = status
	p.UpdatedAt = time.Now().UTC()
	u.parts[participationID] = p
	return nil
}

func (u *unitOfWork) UpdateParticipantData(ctx context.Context, participationID string, data []byte) error {
	p, ok := u.parts[participationID]
	if !ok {
		return storage.ErrParticipationNotFound
	}
	p.ParticipantData = append([]byte(nil), data...)
	p.UpdatedAt = time.Now().UTC()
	u.parts[participationID] = p
	return nil
}

func (u *unitOfWork) DeleteParticipation(ctx context.Context, participationID string) (*model.Participation, error) {
	p, ok := u.parts[participationID]
	if !ok {
		return nil, storage.ErrParticipationNotFound
	}
	delete(u.parts, participationID)
	cp := cloneParticipation(p)
	return &cp, nil
}

func (u *unitOfWork) Recount(ctx context.Context) (int, error) {
	count := 0
	for _, p := range u.parts {
		if p.AttendanceStatus.Counts() {
			count++
		}
	}
	u.event.CurrentParticipants = count
	return count, nil
}

func (u *unitOfWork) UpdateSettings(ctx context.Context, ev *model.Event) error {
	u.event.RegistrationOpen = ev.RegistrationOpen
	u.event.RegistrationDeadline = cloneTime(ev.RegistrationDeadline)
	u.event.MaxParticipants = cloneInt(ev.MaxParticipants)
	return nil
}

func cloneEvent(ev model.Event) model.Event {
	ev.MaxParticipants = cloneInt(ev.MaxParticipants)
	ev.RegistrationDeadline = cloneTime(ev.RegistrationDeadline)
	return ev
}

func cloneParticipation(p model.Participation) model.Participation {
	p.ParticipantData = append([]byte(nil), p.ParticipantData...)
	return p
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
