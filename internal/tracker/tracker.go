// Package tracker keeps session status in sync with the assistant server's
// event stream.
//
// A Tracker owns exactly one stream connection at a time. Frames are decoded
// and dispatched in delivery order on the connection's read goroutine. A
// failed or finished stream is reopened after a fixed delay, forever, until
// Disconnect is called. Every successful open clears the status map, because
// statuses may have gone stale while disconnected.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/events"
	"github.com/ashureev/eventsync/internal/throttle"
)

// DefaultReconnectDelay is the fixed wait before reopening a failed stream.
const DefaultReconnectDelay = 3 * time.Second

var (
	errNoTransport  = errors.New("tracker: transport is required")
	errStreamClosed = errors.New("event stream closed by server")
)

// Options configures a Tracker. Only Transport is required; nil
// collaborators are replaced with no-ops.
type Options struct {
	Transport Transport
	Cache     Invalidator
	Toaster   Toaster
	Notifier  Notifier
	Errors    ErrorSink
	Queue     QueueClearer
	Titles    TitleLookup
	Sessions  SessionRecorder
	Observer  Observer

	ReconnectDelay time.Duration
	ThrottleWindow time.Duration
	Logger         *slog.Logger
}

// Tracker is the event synchronization service. Construct one per process
// and share it; a second Tracker would open a second stream and duplicate
// completion notifications.
type Tracker struct {
	transport Transport
	cache     Invalidator
	toaster   Toaster
	notifier  Notifier
	errs      ErrorSink
	queue     QueueClearer
	titles    TitleLookup
	sessions  SessionRecorder
	observer  Observer

	reconnectDelay time.Duration
	throttle       *throttle.Throttle
	logger         *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	reconnect  *time.Timer
	connected  bool
	statuses   map[string]domain.SessionStatus
	busy       map[string]struct{}
	dropped    uint64

	// dispatching is held for reading while a frame is applied. Disconnect
	// takes it for writing so no frame outlives it.
	dispatching sync.RWMutex
	loops       sync.WaitGroup
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	Connected     bool                            `json:"connected"`
	Statuses      map[string]domain.SessionStatus `json:"statuses"`
	DroppedFrames uint64                          `json:"dropped_frames"`
}

// New creates a Tracker. It does not connect; call Connect or Run.
func New(opts Options) (*Tracker, error) {
	if opts.Transport == nil {
		return nil, errNoTransport
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	t := &Tracker{
		transport:      opts.Transport,
		cache:          opts.Cache,
		toaster:        opts.Toaster,
		notifier:       opts.Notifier,
		errs:           opts.Errors,
		queue:          opts.Queue,
		titles:         opts.Titles,
		sessions:       opts.Sessions,
		observer:       opts.Observer,
		reconnectDelay: opts.ReconnectDelay,
		throttle:       throttle.New(opts.ThrottleWindow),
		logger:         opts.Logger,
		statuses:       make(map[string]domain.SessionStatus),
		busy:           make(map[string]struct{}),
	}
	if t.cache == nil {
		t.cache = noop{}
	}
	if t.toaster == nil {
		t.toaster = noop{}
	}
	if t.notifier == nil {
		t.notifier = noop{}
	}
	if t.errs == nil {
		t.errs = noop{}
	}
	if t.queue == nil {
		t.queue = noop{}
	}
	if t.titles == nil {
		t.titles = noop{}
	}
	if t.sessions == nil {
		t.sessions = noop{}
	}
	if t.observer == nil {
		t.observer = noop{}
	}
	return t, nil
}

// Run connects and blocks until ctx is done, then disconnects.
func (t *Tracker) Run(ctx context.Context) {
	t.Connect()
	<-ctx.Done()
	t.Disconnect()
	t.loops.Wait()
}

// Connect closes any current stream and pending reconnect, then opens a new
// stream.
func (t *Tracker) Connect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectLocked()
}

// Reconnect is Connect, exposed for callers that want to force a fresh stream.
func (t *Tracker) Reconnect() {
	t.logger.Info("[TRACKER] Reconnect requested")
	t.Connect()
}

// Disconnect cancels any scheduled reconnect, closes the active stream and
// drops pending throttled invalidations. A frame being applied when
// Disconnect is called finishes first; no collaborator is called for the old
// stream after Disconnect returns.
func (t *Tracker) Disconnect() {
	t.mu.Lock()
	t.generation++
	t.closeLocked()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	t.dispatching.Lock()
	//nolint:staticcheck // Empty critical section waits out in-flight frames.
	t.dispatching.Unlock()

	t.throttle.Stop()
	if wasConnected {
		t.observer.ConnectionChanged(false)
	}
	t.logger.Info("[TRACKER] Disconnected")
}

// IsConnected reports whether a stream is currently open.
func (t *Tracker) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SessionStatuses returns a copy of the status map.
func (t *Tracker) SessionStatuses() map[string]domain.SessionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.statuses)
}

// Status returns the known status of one session.
func (t *Tracker) Status(sessionID string) (domain.SessionStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[sessionID]
	return s, ok
}

// Snapshot returns the connection flag, statuses and dropped frame count.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Connected:     t.connected,
		Statuses:      maps.Clone(t.statuses),
		DroppedFrames: t.dropped,
	}
}

// SetSessionBusy optimistically marks a session busy, e.g. right after a
// prompt is submitted. It does not arm the completion notification.
func (t *Tracker) SetSessionBusy(sessionID string) {
	t.override(sessionID, domain.Busy())
}

// SetSessionIdle optimistically marks a session idle, e.g. right after an
// abort succeeds. It does not fire a completion notification.
func (t *Tracker) SetSessionIdle(sessionID string) {
	t.override(sessionID, domain.Idle())
}

func (t *Tracker) override(sessionID string, status domain.SessionStatus) {
	t.mu.Lock()
	t.statuses[sessionID] = status
	t.mu.Unlock()
	t.observer.StatusChanged(sessionID, status)
}

func (t *Tracker) connectLocked() {
	t.closeLocked()
	t.generation++
	gen := t.generation

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.loops.Add(1)
	go t.run(ctx, gen)
}

// closeLocked stops the reconnect timer and cancels the active stream.
func (t *Tracker) closeLocked() {
	if t.reconnect != nil {
		t.reconnect.Stop()
		t.reconnect = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Tracker) run(ctx context.Context, gen uint64) {
	defer t.loops.Done()

	frames, err := t.transport.Open(ctx)
	if err != nil {
		t.fail(gen, fmt.Errorf("open event stream: %w", err))
		return
	}
	if !t.opened(gen) {
		return
	}

	for frame, err := range frames {
		if err != nil {
			t.fail(gen, err)
			return
		}
		if !t.apply(ctx, gen, frame) {
			return
		}
	}
	t.fail(gen, errStreamClosed)
}

func (t *Tracker) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.generation
}

func (t *Tracker) opened(gen uint64) bool {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return false
	}
	t.connected = true
	clear(t.statuses)
	t.mu.Unlock()

	t.logger.Info("[TRACKER] Event stream connected")
	t.observer.ConnectionChanged(true)
	t.observer.StatusesReset()
	return true
}

// fail handles a transport error for connection gen: mark disconnected, close
// the stream and schedule a reconnect. Errors from superseded connections are
// ignored.
func (t *Tracker) fail(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.connected = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.reconnect = time.AfterFunc(t.reconnectDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.generation || t.reconnect == nil {
			return
		}
		t.reconnect = nil
		t.connectLocked()
	})
	t.mu.Unlock()

	t.logger.Warn("[TRACKER] Event stream lost, scheduling reconnect",
		"error", err,
		"delay", t.reconnectDelay,
	)
	t.observer.ConnectionChanged(false)
}

// apply handles one frame unless connection gen was superseded.
func (t *Tracker) apply(ctx context.Context, gen uint64, frame []byte) bool {
	t.dispatching.RLock()
	defer t.dispatching.RUnlock()
	if !t.current(gen) {
		return false
	}
	t.handleFrame(ctx, frame)
	return true
}

func (t *Tracker) handleFrame(ctx context.Context, frame []byte) {
	env, err := events.Decode(frame)
	if err != nil {
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		t.logger.Debug("[TRACKER] Dropping malformed frame", "error", err, "size", len(frame))
		return
	}
	t.dispatch(ctx, env)
}
