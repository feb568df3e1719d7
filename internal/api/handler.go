// Package api provides HTTP handlers for the eventsync API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/eventsync/internal/chat"
	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/queue"
	"github.com/ashureev/eventsync/internal/remote"
	"github.com/ashureev/eventsync/internal/tracker"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Tracker is the tracker surface the API exposes.
type Tracker interface {
	Snapshot() tracker.Snapshot
	Reconnect()
	SetSessionBusy(sessionID string)
	SetSessionIdle(sessionID string)
}

// Chat drives session changes and prompting.
type Chat interface {
	Create(ctx context.Context, title string) (*domain.Session, error)
	Rename(ctx context.Context, id, title string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	Prompt(ctx context.Context, id, text string) (chat.PromptResult, error)
	Abort(ctx context.Context, id string) error
	Queued(id string) []queue.Item
}

// Reader serves cached server resources.
type Reader interface {
	Sessions(ctx context.Context) ([]domain.Session, error)
	Messages(ctx context.Context, sessionID string) ([]json.RawMessage, error)
}

// ErrorSlot holds the most recent session error.
type ErrorSlot interface {
	LastError() *domain.SessionError
	ClearError()
}

// NotificationLog returns notification history.
type NotificationLog interface {
	RecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
}

// Options wires a Handler. Stream and WebSocket are optional.
type Options struct {
	Tracker       Tracker
	Chat          Chat
	Reader        Reader
	Errors        ErrorSlot
	Notifications NotificationLog
	Stream        http.Handler
	WebSocket     http.Handler
	Logger        *slog.Logger
}

// Handler serves the eventsync API.
type Handler struct {
	tracker       Tracker
	chat          Chat
	reader        Reader
	errors        ErrorSlot
	notifications NotificationLog
	stream        http.Handler
	ws            http.Handler
	logger        *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		tracker:       opts.Tracker,
		chat:          opts.Chat,
		reader:        opts.Reader,
		errors:        opts.Errors,
		notifications: opts.Notifications,
		stream:        opts.Stream,
		ws:            opts.WebSocket,
		logger:        opts.Logger,
	}
}

// RegisterRoutes registers API routes. Requests that change state must carry
// a JSON body or none at all, so a cross-site form or text/plain post cannot
// reach them.
func (h *Handler) RegisterRoutes(r chi.Router) {
	jsonOnly := chiMiddleware.AllowContentType("application/json")

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.With(jsonOnly).Post("/reconnect", h.Reconnect)
		r.Get("/error", h.GetError)
		r.With(jsonOnly).Delete("/error", h.ClearError)
		r.Get("/notifications", h.ListNotifications)
		if h.stream != nil {
			r.Get("/events", h.stream.ServeHTTP)
		}

		r.Get("/sessions", h.ListSessions)
		r.With(jsonOnly).Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(validSessionID)
			r.Get("/messages", h.ListMessages)
			r.Get("/queue", h.Queue)

			r.Group(func(r chi.Router) {
				r.Use(jsonOnly)
				r.Patch("/", h.RenameSession)
				r.Delete("/", h.DeleteSession)
				r.Post("/prompt", h.Prompt)
				r.Post("/abort", h.Abort)
				r.Post("/busy", h.MarkBusy)
				r.Post("/idle", h.MarkIdle)
			})
		})
	})
	if h.ws != nil {
		r.Get("/ws/notifications", h.ws.ServeHTTP)
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps service errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *remote.StatusError
	switch {
	case errors.Is(err, chat.ErrEmptyPrompt):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, chat.ErrSessionBusy):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, remote.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.As(err, &statusErr):
		h.logger.Warn("Server request failed", "path", r.URL.Path, "status", statusErr.StatusCode, "error", err)
		Error(w, http.StatusBadGateway, fmt.Sprintf("server returned %d", statusErr.StatusCode))
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "server timed out")
	default:
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func validSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionIDPattern.MatchString(chi.URLParam(r, "id")) {
			Error(w, http.StatusBadRequest, "invalid session id")
			return
		}
		next.ServeHTTP(w, r)
	})
}
