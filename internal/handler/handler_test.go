package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/service"
	"github.com/talentstage/event-registration/internal/storage/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New(0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewEventHandler(service.New(store, logger))

	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Patch("/{id}/registration", h.UpdateRegistrationSettings)
		r.Post("/{id}/register", h.Register)
		r.Post("/{id}/cancel", h.Cancel)
		r.Get("/{id}/registration-open", h.RegistrationOpen)
		r.Get("/{id}/capacity", h.Capacity)
		r.Get("/{id}/participations", h.ListParticipations)
		r.Post("/{id}/reconcile", h.Reconcile)
	})
	r.Delete("/participations/{id}", h.DeleteParticipation)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func createTestEvent(t *testing.T, router http.Handler, max *int) model.Event {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/events", model.CreateEventRequest{
		Name:            "Open Audition",
		MaxParticipants: max,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeBody[model.Event](t, rec)
}

func intp(v int) *int { return &v }

func TestHealthCheck(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateEventRejectsBadPayload(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/events", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/events", map[string]any{"name": "x", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestRegisterFlow(t *testing.T) {
	router := newTestRouter(t)
	ev := createTestEvent(t, router, intp(1))

	rec := doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{
		ParticipantID:   "alice",
		ParticipantData: json.RawMessage(`{"school":"PS 118"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[model.Participation](t, rec)
	assert.Equal(t, model.StatusActive, p.AttendanceStatus)

	// Same participant again: conflict.
	rec = doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{ParticipantID: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Event is now full: forbidden with a specific reason.
	rec = doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{ParticipantID: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	errResp := decodeBody[model.ErrorResponse](t, rec)
	assert.Contains(t, errResp.Error, "full")

	// Capacity endpoint agrees.
	rec = doJSON(t, router, http.MethodGet, "/events/"+ev.ID+"/capacity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	capResp := decodeBody[model.CapacityResponse](t, rec)
	assert.Equal(t, 1, capResp.CurrentParticipants)
	assert.True(t, capResp.Full)

	// Registration-open endpoint reports the denial reason.
	rec = doJSON(t, router, http.MethodGet, "/events/"+ev.ID+"/registration-open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decodeBody[model.RegistrationOpenResponse](t, rec)
	assert.False(t, open.Open)
	assert.Equal(t, "event_full", open.Reason)
}

func TestCancelFlow(t *testing.T) {
	router := newTestRouter(t)
	ev := createTestEvent(t, router, intp(3))

	doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{ParticipantID: "alice"})

	rec := doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/cancel", model.CancelRequest{ParticipantID: "alice"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Idempotent: cancelling again still succeeds.
	rec = doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/cancel", model.CancelRequest{ParticipantID: "alice"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// A participant with no record at all is a 404.
	rec = doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/cancel", model.CancelRequest{ParticipantID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownEventRoutes(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{
		"/events/missing",
		"/events/missing/capacity",
		"/events/missing/registration-open",
		"/events/missing/participations",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := doJSON(t, router, http.MethodDelete, "/participations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteParticipation(t *testing.T) {
	router := newTestRouter(t)
	ev := createTestEvent(t, router, nil)

	rec := doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{ParticipantID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[model.Participation](t, rec)

	rec = doJSON(t, router, http.MethodDelete, "/participations/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/events/"+ev.ID+"/capacity", nil)
	capResp := decodeBody[model.CapacityResponse](t, rec)
	assert.Equal(t, 0, capResp.CurrentParticipants)
}

func TestUpdateRegistrationSettingsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	ev := createTestEvent(t, router, intp(5))

	closed := false
	rec := doJSON(t, router, http.MethodPatch, "/events/"+ev.ID+"/registration", model.UpdateRegistrationRequest{
		RegistrationOpen: &closed,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{ParticipantID: "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	router := newTestRouter(t)
	ev := createTestEvent(t, router, nil)

	doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/register", model.RegisterRequest{ParticipantID: "alice"})

	rec := doJSON(t, router, http.MethodPost, "/events/"+ev.ID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["current_participants"])
}

func TestListEventsReturnsEmptyArray(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodGet, "/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
