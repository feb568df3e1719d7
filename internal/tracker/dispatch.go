package tracker

import (
	"context"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/events"
)

const (
	completionTitle     = "Response ready"
	defaultErrorMessage = "An unexpected error occurred"
)

// dispatch applies one event. Unknown types are ignored so that newer servers
// can add events without breaking older clients.
//
//nolint:gocyclo // One case per event type keeps the mapping readable.
func (t *Tracker) dispatch(ctx context.Context, env events.Envelope) {
	ev := env.Payload

	switch ev.Type {
	case events.SessionCreated, events.SessionUpdated:
		t.cache.InvalidateSessions()
		var p events.SessionProps
		if !t.decode(ev, &p) || p.Info.ID == "" {
			return
		}
		s := p.Info.Domain()
		if s.Directory == "" {
			s.Directory = env.Directory
		}
		if err := t.sessions.UpsertSession(ctx, &s); err != nil {
			t.logger.Warn("Failed to record session", "session_id", s.ID, "error", err)
		}

	case events.SessionDeleted:
		t.cache.InvalidateSessions()
		var p events.SessionProps
		if !t.decode(ev, &p) || p.Info.ID == "" {
			return
		}
		t.queue.Clear(p.Info.ID)
		if err := t.sessions.DeleteSession(ctx, p.Info.ID); err != nil {
			t.logger.Warn("Failed to forget session", "session_id", p.Info.ID, "error", err)
		}

	case events.SessionError:
		var p events.ErrorProps
		// A session.error without properties is still worth surfacing.
		_ = ev.Into(&p)
		t.errs.SetSessionError(sessionError(p))

	case events.MessageUpdated, events.MessageRemoved:
		var p events.MessageProps
		if t.decode(ev, &p) && p.Session() != "" {
			t.cache.InvalidateMessages(p.Session())
		}

	case events.MessagePartUpdated, events.MessagePartRemoved:
		var p events.PartProps
		if t.decode(ev, &p) && p.Session() != "" {
			sessionID := p.Session()
			t.throttle.Do("messages:"+sessionID, func() {
				t.cache.InvalidateMessages(sessionID)
			})
		}

	case events.SessionStatus:
		var p events.StatusProps
		if !t.decode(ev, &p) || p.SessionID == "" {
			return
		}
		t.mu.Lock()
		t.statuses[p.SessionID] = p.Status
		// Only a true busy state arms the completion notification; retry does not.
		if p.Status.IsBusy() {
			t.busy[p.SessionID] = struct{}{}
		}
		t.mu.Unlock()
		t.observer.StatusChanged(p.SessionID, p.Status)

	case events.SessionIdle:
		var p events.SessionRef
		if !t.decode(ev, &p) || p.SessionID == "" {
			return
		}
		t.mu.Lock()
		_, wasBusy := t.busy[p.SessionID]
		delete(t.busy, p.SessionID)
		t.mu.Unlock()
		if !wasBusy {
			return
		}
		t.cache.InvalidateMessages(p.SessionID)
		t.notifier.NotifyCompletion(t.completion(ctx, p.SessionID))

	case events.SessionCompacted:
		var p events.SessionRef
		if t.decode(ev, &p) && p.SessionID != "" {
			t.cache.InvalidateMessages(p.SessionID)
		}

	case events.ProviderUpdated, events.LSPUpdated, events.ConfigUpdated:
		t.cache.InvalidateProviders()
		t.cache.InvalidateConfig()

	case events.ToastShow:
		var p events.ToastProps
		if t.decode(ev, &p) {
			t.toast(p)
		}
	}
}

func (t *Tracker) decode(ev *events.Event, v any) bool {
	if err := ev.Into(v); err != nil {
		t.logger.Debug("[TRACKER] Ignoring event with unreadable properties", "type", ev.Type, "error", err)
		return false
	}
	return true
}

func (t *Tracker) completion(ctx context.Context, sessionID string) domain.Completion {
	title, err := t.titles.SessionTitle(ctx, sessionID)
	if err != nil {
		t.logger.Warn("Failed to look up session title", "session_id", sessionID, "error", err)
		title = ""
	}
	title = domain.TitleOrFallback(title, sessionID)
	return domain.Completion{
		SessionID: sessionID,
		Title:     completionTitle,
		Body:      `"` + title + `" has finished responding`,
		Path:      domain.SessionPath(sessionID),
	}
}

func (t *Tracker) toast(p events.ToastProps) {
	msg := p.Message
	if p.Title != "" {
		msg = p.Title + ": " + msg
	}
	switch p.Variant {
	case domain.ToastSuccess:
		t.toaster.Success(msg)
	case domain.ToastWarning:
		t.toaster.Warning(msg)
	case domain.ToastError:
		t.toaster.Error(msg)
	default:
		t.toaster.Info(msg)
	}
}

func sessionError(p events.ErrorProps) domain.SessionError {
	e := domain.SessionError{
		SessionID: p.SessionID,
		Message:   defaultErrorMessage,
		Timestamp: time.Now(),
	}
	if p.Error != nil {
		e.Code = p.Error.Name
		switch {
		case p.Error.Data.Message != "":
			e.Message = p.Error.Data.Message
		case p.Error.Name != "":
			e.Message = p.Error.Name
		}
	}
	return e
}
