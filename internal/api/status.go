package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/eventsync/internal/domain"
)

// Status returns the connection state and every known session status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.tracker.Snapshot())
}

// Reconnect drops the event stream and opens a new one.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.tracker.Reconnect()
	h.logger.Info("Event stream reconnect requested", "ip", r.RemoteAddr)
	JSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

// MarkBusy forces a session to busy.
func (h *Handler) MarkBusy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.tracker.SetSessionBusy(id)
	JSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "busy"})
}

// MarkIdle forces a session to idle. No completion notification is raised.
func (h *Handler) MarkIdle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.tracker.SetSessionIdle(id)
	JSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "idle"})
}

// GetError returns the last session error, or 204 when there is none.
func (h *Handler) GetError(w http.ResponseWriter, r *http.Request) {
	e := h.errors.LastError()
	if e == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	JSON(w, http.StatusOK, e)
}

// ClearError empties the session error slot.
func (h *Handler) ClearError(w http.ResponseWriter, r *http.Request) {
	h.errors.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications returns recent notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 0 and 500")
			return
		}
		limit = n
	}
	items, err := h.notifications.RecentNotifications(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	JSON(w, http.StatusOK, items)
}
