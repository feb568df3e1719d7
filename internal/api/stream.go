package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	sse "github.com/tmaxmax/go-sse"

	"github.com/ashureev/eventsync/internal/notify"
)

// Stream defaults.
const (
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultRetryDelay        = 3 * time.Second
)

// EventSource is what the stream re-broadcasts.
type EventSource interface {
	Subscribe() (<-chan notify.Event, func())
	Since(lastID int64) ([]notify.Event, bool)
}

// StreamHandler serves hub events as server-sent events. Reconnecting
// clients that send Last-Event-ID get the buffered events they missed.
type StreamHandler struct {
	source            EventSource
	keepaliveInterval time.Duration
	retryDelay        time.Duration
	logger            *slog.Logger
	connID            atomic.Int64
}

// NewStreamHandler creates a stream handler. Zero durations use the defaults.
func NewStreamHandler(source EventSource, keepalive, retry time.Duration, logger *slog.Logger) *StreamHandler {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		source:            source,
		keepaliveInterval: keepalive,
		retryDelay:        retry,
		logger:            logger,
	}
}

// ServeHTTP handles GET /api/events.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := h.connID.Add(1)

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil && parsed > 0 {
			lastEventID = parsed
		}
	}

	// Subscribe before replaying so nothing published in between is lost.
	events, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		h.logger.Warn("Failed to upgrade SSE connection", "error", err)
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	hello := &sse.Message{Type: sse.Type("connected"), Retry: h.retryDelay}
	hello.AppendData(`{"status":"connected"}`)
	if err := sess.Send(hello); err != nil {
		h.logger.Debug("Failed to write SSE connected event", "error", err, "conn_id", connID)
		return
	}

	lastSent := lastEventID
	if lastEventID > 0 {
		missed, complete := h.source.Since(lastEventID)
		if !complete {
			h.logger.Info("Replay history exhausted, asking client to resync", "conn_id", connID, "last_event_id", lastEventID)
			resync := &sse.Message{Type: sse.Type(notify.EventResync)}
			resync.AppendData(`{"reason":"history_exhausted"}`)
			if err := sess.Send(resync); err != nil {
				return
			}
			// IDs from an earlier hub may be ahead of ours.
			lastSent = 0
		}
		if len(missed) > 0 {
			h.logger.Info("Sending missed events", "conn_id", connID, "last_event_id", lastEventID, "count", len(missed))
		}
		for _, ev := range missed {
			if err := h.send(sess, ev); err != nil {
				return
			}
			lastSent = ev.ID
		}
	}
	if err := sess.Flush(); err != nil {
		return
	}

	h.logger.Info("SSE connection established", "conn_id", connID, "reconnect", lastEventID > 0)
	defer h.logger.Info("SSE connection closed", "conn_id", connID)

	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			ping := &sse.Message{}
			ping.AppendComment("keepalive")
			if err := sess.Send(ping); err != nil {
				h.logger.Debug("Failed to write SSE keepalive", "error", err, "conn_id", connID)
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ID <= lastSent {
				continue
			}
			if err := h.send(sess, ev); err != nil {
				h.logger.Debug("Failed to write SSE event", "error", err, "conn_id", connID)
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
			lastSent = ev.ID
		}
	}
}

func (h *StreamHandler) send(sess *sse.Session, ev notify.Event) error {
	data, err := sonic.Marshal(ev.Data)
	if err != nil {
		h.logger.Warn("Failed to marshal SSE event", "event_id", ev.ID, "error", err)
		return nil
	}
	msg := &sse.Message{ID: sse.ID(strconv.FormatInt(ev.ID, 10)), Type: sse.Type(ev.Type)}
	msg.AppendData(string(data))
	return sess.Send(msg)
}
