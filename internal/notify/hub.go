// Package notify fans tracker output out to the people watching it: WebSocket
// and SSE subscribers, the console, and the notification history.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/eventsync/internal/domain"
)

// Event types broadcast to subscribers.
const (
	EventNotification  = "notification"
	EventStatus        = "status"
	EventConnection    = "connection"
	EventStatusesReset = "statuses_reset"
	// EventResync tells a reconnecting client that replay could not cover
	// everything it missed and its state must be refetched.
	EventResync = "resync"
)

const (
	defaultHistorySize = 256
	defaultBufferSize  = 64
	storeTimeout       = 5 * time.Second
)

// Event is one broadcast item. ID increases monotonically per hub.
type Event struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatusData is the payload of EventStatus.
type StatusData struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status"`
}

// ConnectionData is the payload of EventConnection.
type ConnectionData struct {
	Connected bool `json:"connected"`
}

// Store persists notifications.
type Store interface {
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// Sink receives every notification synchronously.
type Sink interface {
	Deliver(n domain.Notification)
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Hub is safe for concurrent use.
type Hub struct {
	logger *slog.Logger
	store  Store
	sinks  []Sink

	mu        sync.RWMutex
	lastError *domain.SessionError
	subs      map[int64]*subscriber
	nextSub   int64
	seq       int64
	history   []Event
	maxHist   int
	hooks     []func(domain.Completion)

	wg sync.WaitGroup
}

// NewHub creates a hub. store may be nil.
func NewHub(store Store, logger *slog.Logger, sinks ...Sink) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		store:   store,
		sinks:   sinks,
		subs:    make(map[int64]*subscriber),
		maxHist: defaultHistorySize,
	}
}

// OnCompletion registers fn to run after each completion is published.
func (h *Hub) OnCompletion(fn func(domain.Completion)) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Info shows an informational toast.
func (h *Hub) Info(message string) { h.toast(domain.ToastInfo, message) }

// Success shows a success toast.
func (h *Hub) Success(message string) { h.toast(domain.ToastSuccess, message) }

// Warning shows a warning toast.
func (h *Hub) Warning(message string) { h.toast(domain.ToastWarning, message) }

// Error shows an error toast.
func (h *Hub) Error(message string) { h.toast(domain.ToastError, message) }

func (h *Hub) toast(variant domain.ToastVariant, message string) {
	h.notify(domain.Notification{
		Kind:    domain.KindToast,
		Variant: variant,
		Body:    message,
	})
}

// NotifyCompletion publishes a completion and runs completion hooks.
func (h *Hub) NotifyCompletion(c domain.Completion) {
	h.notify(domain.Notification{
		Kind:      domain.KindCompletion,
		Variant:   domain.ToastSuccess,
		SessionID: c.SessionID,
		Title:     c.Title,
		Body:      c.Body,
		Path:      c.Path,
	})

	h.mu.RLock()
	hooks := append([]func(domain.Completion){}, h.hooks...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
}

// SetSessionError stores e as the last session error and publishes it.
func (h *Hub) SetSessionError(e domain.SessionError) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.lastError = &e
	h.mu.Unlock()

	h.notify(domain.Notification{
		Kind:      domain.KindSessionError,
		Variant:   domain.ToastError,
		SessionID: e.SessionID,
		Body:      e.Message,
		Code:      e.Code,
		CreatedAt: e.Timestamp,
	})
}

// LastError returns the most recent session error, or nil.
func (h *Hub) LastError() *domain.SessionError {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastError == nil {
		return nil
	}
	e := *h.lastError
	return &e
}

// ClearError empties the session error slot.
func (h *Hub) ClearError() {
	h.mu.Lock()
	h.lastError = nil
	h.mu.Unlock()
}

// ConnectionChanged publishes the tracker's connection state.
func (h *Hub) ConnectionChanged(connected bool) {
	h.publish(EventConnection, ConnectionData{Connected: connected})
}

// StatusChanged publishes a session status change.
func (h *Hub) StatusChanged(sessionID string, status domain.SessionStatus) {
	h.publish(EventStatus, StatusData{SessionID: sessionID, Status: status})
}

// StatusesReset publishes that all statuses were cleared.
func (h *Hub) StatusesReset() {
	h.publish(EventStatusesReset, nil)
}

// Subscribe registers a subscriber. Events are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, defaultBufferSize)}

	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Since returns buffered events with an ID greater than lastID, oldest first.
// complete is false when events after lastID have already left the history,
// or lastID was issued by an earlier hub.
func (h *Hub) Since(lastID int64) (events []Event, complete bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	complete = lastID <= h.seq
	if len(h.history) > 0 && lastID < h.history[0].ID-1 {
		complete = false
	}
	for _, ev := range h.history {
		if ev.ID > lastID {
			events = append(events, ev)
		}
	}
	return events, complete
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Wait blocks until pending notification writes finish.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) notify(n domain.Notification) {
	n.ID = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	for _, s := range h.sinks {
		s.Deliver(n)
	}
	h.publish(EventNotification, n)

	if h.store == nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := h.store.InsertNotification(ctx, &n); err != nil {
			h.logger.Warn("Failed to record notification", "kind", n.Kind, "error", err)
		}
	}()
}

func (h *Hub) publish(typ string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{ID: h.seq, Type: typ, Data: data}
	h.history = append(h.history, ev)
	if len(h.history) > h.maxHist {
		h.history = h.history[len(h.history)-h.maxHist:]
	}

	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			h.logger.Warn("[HUB] Subscriber buffer full, dropping event", "subscriber", id, "event_id", ev.ID, "dropped", sub.dropped)
		}
	}
}
