package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestEventIsFull(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{"no max is never full", Event{CurrentParticipants: 1 << 20}, false},
		{"below max", Event{MaxParticipants: intp(3), CurrentParticipants: 2}, false},
		{"at max", Event{MaxParticipants: intp(3), CurrentParticipants: 3}, true},
		{"over max", Event{MaxParticipants: intp(3), CurrentParticipants: 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.IsFull())
		})
	}
}

func TestEventRemaining(t *testing.T) {
	assert.Equal(t, -1, (&Event{}).Remaining())
	assert.Equal(t, 2, (&Event{MaxParticipants: intp(5), CurrentParticipants: 3}).Remaining())
	assert.Equal(t, 0, (&Event{MaxParticipants: intp(5), CurrentParticipants: 7}).Remaining())
}

func TestAttendanceStatus(t *testing.T) {
	assert.True(t, StatusActive.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, AttendanceStatus("waitlisted").Valid())

	assert.True(t, StatusActive.Counts())
	assert.False(t, StatusCancelled.Counts())
}

func TestValidateMax(t *testing.T) {
	assert.NoError(t, ValidateMax(nil))
	assert.NoError(t, ValidateMax(intp(1)))
	assert.Error(t, ValidateMax(intp(0)))
	assert.Error(t, ValidateMax(intp(-5)))
}
