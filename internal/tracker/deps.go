package tracker

import (
	"context"
	"iter"

	"github.com/ashureev/eventsync/internal/domain"
)

// Transport opens the server's event stream. The returned sequence yields raw
// frame payloads until the stream fails, ends, or ctx is cancelled.
// Cancelling ctx must release the underlying connection.
type Transport interface {
	Open(ctx context.Context) (iter.Seq2[[]byte, error], error)
}

// Invalidator marks cached server resources stale.
type Invalidator interface {
	InvalidateSessions()
	InvalidateMessages(sessionID string)
	InvalidateProviders()
	InvalidateConfig()
}

// Toaster shows transient messages to the user.
type Toaster interface {
	Info(message string)
	Success(message string)
	Warning(message string)
	Error(message string)
}

// Notifier receives completion notifications.
type Notifier interface {
	NotifyCompletion(c domain.Completion)
}

// ErrorSink is the shared slot for session-level errors.
type ErrorSink interface {
	SetSessionError(e domain.SessionError)
}

// QueueClearer drops queued-but-unsent prompts of a session.
type QueueClearer interface {
	Clear(sessionID string)
}

// TitleLookup resolves a session title. An empty title means unknown.
type TitleLookup interface {
	SessionTitle(ctx context.Context, sessionID string) (string, error)
}

// SessionRecorder keeps a local record of sessions seen on the stream.
type SessionRecorder interface {
	UpsertSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Observer is told about connection and status changes.
type Observer interface {
	ConnectionChanged(connected bool)
	StatusChanged(sessionID string, status domain.SessionStatus)
	StatusesReset()
}

type noop struct{}

func (noop) InvalidateSessions()                                 {}
func (noop) InvalidateMessages(string)                           {}
func (noop) InvalidateProviders()                                {}
func (noop) InvalidateConfig()                                   {}
func (noop) Info(string)                                         {}
func (noop) Success(string)                                      {}
func (noop) Warning(string)                                      {}
func (noop) Error(string)                                        {}
func (noop) NotifyCompletion(domain.Completion)                  {}
func (noop) SetSessionError(domain.SessionError)                 {}
func (noop) Clear(string)                                        {}
func (noop) UpsertSession(context.Context, *domain.Session) error { return nil }
func (noop) DeleteSession(context.Context, string) error         { return nil }
func (noop) ConnectionChanged(bool)                              {}
func (noop) StatusChanged(string, domain.SessionStatus)          {}
func (noop) StatusesReset()                                      {}

func (noop) SessionTitle(context.Context, string) (string, error) { return "", nil }

// Observers fans every call out to each observer in order.
type Observers []Observer

func (o Observers) ConnectionChanged(connected bool) {
	for _, obs := range o {
		obs.ConnectionChanged(connected)
	}
}

func (o Observers) StatusChanged(sessionID string, status domain.SessionStatus) {
	for _, obs := range o {
		obs.StatusChanged(sessionID, status)
	}
}

func (o Observers) StatusesReset() {
	for _, obs := range o {
		obs.StatusesReset()
	}
}
