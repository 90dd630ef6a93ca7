// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talentstage/event-registration/internal/model"
	"github.com/talentstage/event-registration/internal/service"
	"github.com/talentstage/event-registration/internal/storage"
)

// EventHandler holds all HTTP handlers for the registration API.
type EventHandler struct {
	svc *service.RegistrationService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.RegistrationService) *EventHandler {
	return &EventHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDomainError maps the typed service/storage errors onto HTTP
// statuses. Anything unrecognized is treated as a bad request so the
// message reaches the caller, matching how validation errors surface.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, storage.ErrParticipationNotFound):
		writeError(w, http.StatusNotFound, "participation not found")
	case errors.Is(err, service.ErrNotRegistered):
		writeError(w, http.StatusNotFound, err.Error())
	case service.IsRegistrationClosed(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrBusy), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "event is busy, please retry")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UpdateRegistrationSettings handles PATCH /events/{id}/registration
func (h *EventHandler) UpdateRegistrationSettings(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.UpdateRegistrationSettings(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ─── Registration handlers ────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.svc.Register(r.Context(), chi.URLParam(r, "id"), req.ParticipantID, req.ParticipantData)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Cancel handles POST /events/{id}/cancel
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.ParticipantID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RegistrationOpen handles GET /events/{id}/registration-open
func (h *EventHandler) RegistrationOpen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	decision, err := h.svc.IsRegistrationOpen(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := model.RegistrationOpenResponse{EventID: id, Open: decision.Open}
	if !decision.Open {
		resp.Reason = string(decision.Reason)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Capacity handles GET /events/{id}/capacity
func (h *EventHandler) Capacity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CapacityResponse{
		EventID:             id,
		CurrentParticipants: event.CurrentParticipants,
		MaxParticipants:     event.MaxParticipants,
		Full:                event.IsFull(),
	})
}

// ListParticipations handles GET /events/{id}/participations
func (h *EventHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	parts, err := h.svc.ListParticipations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if parts == nil {
		parts = []model.Participation{}
	}
	writeJSON(w, http.StatusOK, parts)
}

// DeleteParticipation handles DELETE /participations/{id}
// Administrative hard delete for data correction.
func (h *EventHandler) DeleteParticipation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reconcile handles POST /events/{id}/reconcile
// Recomputes the event's counter from its participation records.
func (h *EventHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	count, err := h.svc.Reconcile(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":             id,
		"current_participants": count,
	})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
