package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/queue"
)

type titleRequest struct {
	Title string `json:"title"`
}

type promptRequest struct {
	Text string `json:"text"`
}

// sessionView is a session with its live status attached.
type sessionView struct {
	domain.Session
	Status *domain.SessionStatus `json:"status,omitempty"`
}

// ListSessions returns all sessions with their current status.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.reader.Sessions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	statuses := h.tracker.Snapshot().Statuses
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		v := sessionView{Session: s}
		if st, ok := statuses[s.ID]; ok {
			v.Status = &st
		}
		out = append(out, v)
	}
	JSON(w, http.StatusOK, out)
}

// CreateSession starts a new session. The body is optional.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	sess, err := h.chat.Create(r.Context(), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// RenameSession changes a session title.
func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	sess, err := h.chat.Rename(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// DeleteSession removes a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns a session's messages as the server reports them.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.reader.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []json.RawMessage{}
	}
	JSON(w, http.StatusOK, msgs)
}

// Prompt sends or queues a prompt.
func (h *Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.chat.Prompt(r.Context(), id, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.Queued {
		status = http.StatusOK
	}
	JSON(w, status, res)
}

// Abort stops the response in progress.
func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Abort(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// Queue returns prompts waiting for the session to go idle.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	items := h.chat.Queued(chi.URLParam(r, "id"))
	if items == nil {
		items = []queue.Item{}
	}
	JSON(w, http.StatusOK, items)
}
