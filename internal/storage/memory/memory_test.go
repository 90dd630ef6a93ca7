package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/storage"
)

func intp(v int) *int { return &v }

func seedEvent(t *testing.T, s *Store, max *int) *model.Event {
	t.Helper()
	ev := &model.Event{
		ID:               "ev-1",
		Name:             "Portfolio Review Night",
		MaxParticipants:  max,
		RegistrationOpen: true,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

func TestWithEventUnknownEvent(t *testing.T) {
	s := New(0)
	err := s.WithEvent(context.Background(), "missing", func(uow storage.UnitOfWork) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWithEventRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	ev := seedEvent(t, s, nil)

	boom := errors.New("boom")
	err := s.WithEvent(ctx, ev.ID, func(uow storage.UnitOfWork) error {
		require.NoError(t, uow.InsertParticipation(ctx, &model.Participation{
			ID: "p-1", EventID: ev.ID, ParticipantID: "alice",
			AttendanceStatus: model.StatusActive,
		}))
		require.NoError(t, uow.Apply(ctx, ev.ID, 1))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Neither the insert nor the counter delta survived.
	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentParticipants)
	parts, err := s.ListParticipations(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestApplyGuardsMaxAndFloorsZero(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	ev := seedEvent(t, s, intp(2))

	err := s.WithEvent(ctx, ev.ID, func(uow storage.UnitOfWork) error {
		require.NoError(t, uow.Apply(ctx, ev.ID, 1))
		require.NoError(t, uow.Apply(ctx, ev.ID, 1))
		assert.ErrorIs(t, uow.Apply(ctx, ev.ID, 1), storage.ErrEventFull)
		require.NoError(t, uow.Apply(ctx, ev.ID, -1))
		// Drift guard: a decrement past zero floors instead of going negative.
		require.NoError(t, uow.Apply(ctx, ev.ID, -5))
		assert.Equal(t, 0, uow.Event().CurrentParticipants)
		return nil
	})
	require.NoError(t, err)
}

func TestWithEventBoundedWait(t *testing.T) {
	ctx := context.Background()
	s := New(50 * time.Millisecond)
	ev := seedEvent(t, s, nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithEvent(ctx, ev.ID, func(uow storage.UnitOfWork) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := s.WithEvent(ctx, ev.ID, func(uow storage.UnitOfWork) error { return nil })
	assert.ErrorIs(t, err, storage.ErrBusy)
}

func TestWithEventHonorsContext(t *testing.T) {
	s := New(time.Minute)
	ev := seedEvent(t, s, nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithEvent(context.Background(), ev.ID, func(uow storage.UnitOfWork) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithEvent(ctx, ev.ID, func(uow storage.UnitOfWork) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	ev := seedEvent(t, s, intp(5))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	*got.MaxParticipants = 99

	again, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *again.MaxParticipants)
}
