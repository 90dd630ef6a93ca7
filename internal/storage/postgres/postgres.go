// Package postgres implements the storage interfaces on PostgreSQL using
// pgx directly (no ORM).
//
// Concurrency model: every mutation for an event runs inside one
// transaction that starts with SELECT … FOR UPDATE on the event row.
// The row-level lock serializes concurrent registration attempts for the
// same event: two transactions can no longer both read the same counter
// snapshot and both write back the same incremented value. Events
// whose rows are untouched proceed in parallel. A SET LOCAL lock_timeout
// bounds how long a caller blocks behind the lock; waiters that time out
// get storage.ErrBusy and may retry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/storage"
)

// pgLockNotAvailable is the SQLSTATE raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

const eventColumns = `id, name, description, max_participants, current_participants,
	 registration_open, registration_deadline, created_at`

const participationColumns = `id, event_id, participant_id, attendance_status,
	 participant_data, created_at, updated_at`

// Store is the PostgreSQL-backed storage.Store.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// New constructs a Store. lockTimeout bounds the per-event row-lock wait.
func New(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{db: db, lockTimeout: lockTimeout}
}

// CreateEvent inserts a new event row.
func (s *Store) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.Name, ev.Description, ev.MaxParticipants, ev.CurrentParticipants,
		ev.RegistrationOpen, ev.RegistrationDeadline, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or storage.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns all events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// ListEventIDs returns every event ID, for administrative sweeps.
func (s *Store) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM events ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListParticipations returns all participations for an event, oldest first.
func (s *Store) ListParticipations(ctx context.Context, eventID string) ([]model.Participation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+participationColumns+`
		 FROM participations WHERE event_id = $1 ORDER BY created_at ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	var parts []model.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// FindParticipationByID resolves a participation by its own ID.
func (s *Store) FindParticipationByID(ctx context.Context, participationID string) (*model.Participation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE id = $1`,
		participationID)
	p, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrParticipationNotFound
		}
		return nil, fmt.Errorf("find participation: %w", err)
	}
	return p, nil
}

// WithEvent runs fn inside a transaction holding an exclusive row lock on
// the event. All writes made through the UnitOfWork commit together or
// roll back together.
func (s *Store) WithEvent(ctx context.Context, eventID string, fn func(uow storage.UnitOfWork) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// lock_timeout cannot be a bind parameter; the value comes from config,
	// not caller input.
	_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	// Pessimistic lock: any concurrent WithEvent on the same event blocks
	// here until we commit or roll back.
	row := tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return storage.ErrNotFound
		case isLockTimeout(err):
			return storage.ErrBusy
		default:
			return fmt.Errorf("lock event row: %w", err)
		}
	}

	if err = fn(&unitOfWork{tx: tx, event: ev}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

// unitOfWork wraps one event-locked transaction.
type unitOfWork struct {
	tx    pgx.Tx
	event *model.Event
}

// Event returns the snapshot read under the row lock. It reflects the
// state at lock acquisition; Apply mutates the stored row, not this copy.
func (u *unitOfWork) Event() *model.Event {
	return u.event
}

// Apply moves the counter by delta as a single relative UPDATE. The
// capacity guard is part of the statement itself, so an increment that
// would overshoot the maximum affects zero rows instead of overbooking.
func (u *unitOfWork) Apply(ctx context.Context, eventID string, delta int) error {
	if delta > 0 {
		tag, err := u.tx.Exec(ctx,
			`UPDATE events
			 SET current_participants = current_participants + $2
			 WHERE id = $1
			   AND (max_participants IS NULL
			        OR current_participants + $2 <= max_participants)`,
			eventID, delta)
		if err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrEventFull
		}
		return nil
	}

	// Floor at zero rather than letting drift push the counter negative.
	_, err := u.tx.Exec(ctx,
		`UPDATE events
		 SET current_participants = GREATEST(current_participants + $2, 0)
		 WHERE id = $1`,
		eventID, delta)
	if err != nil {
		return fmt.Errorf("decrement counter: %w", err)
	}
	return nil
}

func (u *unitOfWork) FindParticipation(ctx context.Context, participantID string) (*model.Participation, error) {
	row := u.tx.QueryRow(ctx,
		`SELECT `+participationColumns+`
		 FROM participations WHERE event_id = $1 AND participant_id = $2`,
		u.event.ID, participantID)
	p, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrParticipationNotFound
		}
		return nil, fmt.Errorf("find participation: %w", err)
	}
	return p, nil
}

func (u *unitOfWork) InsertParticipation(ctx context.Context, p *model.Participation) error {
	_, err := u.tx.Exec(ctx,
		`INSERT INTO participations (`+participationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.EventID, p.ParticipantID, p.AttendanceStatus,
		p.ParticipantData, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

func (u *unitOfWork) UpdateStatus(ctx context.Context, participationID string, status model.AttendanceStatus) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE participations SET attendance_status = $2, updated_at = $3 WHERE id = $1`,
		participationID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrParticipationNotFound
	}
	return nil
}

func (u *unitOfWork) UpdateParticipantData(ctx context.Context, participationID string, data []byte) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE participations SET participant_data = $2, updated_at = $3 WHERE id = $1`,
		participationID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update participant data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrParticipationNotFound
	}
	return nil
}

func (u *unitOfWork) DeleteParticipation(ctx context.Context, participationID string) (*model.Participation, error) {
	row := u.tx.QueryRow(ctx,
		`DELETE FROM participations WHERE id = $1
		 RETURNING `+participationColumns,
		participationID)
	p, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrParticipationNotFound
		}
		return nil, fmt.Errorf("delete participation: %w", err)
	}
	return p, nil
}

// Recount overwrites the counter from the authoritative participation
// rows. Runs under the event row lock like every other counter write.
func (u *unitOfWork) Recount(ctx context.Context) (int, error) {
	var count int
	err := u.tx.QueryRow(ctx,
		`UPDATE events
		 SET current_participants = (
		     SELECT COUNT(*) FROM participations
		     WHERE event_id = $1 AND attendance_status <> $2)
		 WHERE id = $1
		 RETURNING current_participants`,
		u.event.ID, model.StatusCancelled,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("recount participants: %w", err)
	}
	return count, nil
}

func (u *unitOfWork) UpdateSettings(ctx context.Context, ev *model.Event) error {
	_, err := u.tx.Exec(ctx,
		`UPDATE events
		 SET registration_open = $2, registration_deadline = $3, max_participants = $4
		 WHERE id = $1`,
		ev.ID, ev.RegistrationOpen, ev.RegistrationDeadline, ev.MaxParticipants)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var ev model.Event
	err := row.Scan(&ev.ID, &ev.Name, &ev.Description, &ev.MaxParticipants,
		&ev.CurrentParticipants, &ev.RegistrationOpen, &ev.RegistrationDeadline,
		&ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanParticipation(row rowScanner) (*model.Participation, error) {
	var p model.Participation
	err := row.Scan(&p.ID, &p.EventID, &p.ParticipantID, &p.AttendanceStatus,
		&p.ParticipantData, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
