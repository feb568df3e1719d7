// Package chat drives session lifecycle and prompting against the server,
// keeping the tracker's status and the prompt queue in step.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/queue"
)

// Defaults for Options.
const (
	DefaultRateLimit   = rate.Limit(1)
	DefaultRateBurst   = 5
	DefaultMaxQueued   = 20
	DefaultSendTimeout = 30 * time.Second
	limiterIdleTTL     = 10 * time.Minute
)

var (
	// ErrEmptyPrompt is returned for a prompt with no text.
	ErrEmptyPrompt = errors.New("prompt text is required")
	// ErrRateLimited is returned when a session sends prompts too fast.
	ErrRateLimited = errors.New("prompt rate limit exceeded")
	// ErrSessionBusy is returned when a busy session's queue is full.
	ErrSessionBusy = errors.New("session is busy and its queue is full")
)

// Remote is the subset of the server API the service calls.
type Remote interface {
	CreateSession(ctx context.Context, title string) (*domain.Session, error)
	RenameSession(ctx context.Context, id, title string) (*domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
	Prompt(ctx context.Context, id, text string) error
	Abort(ctx context.Context, id string) error
}

// StatusTracker exposes session status and the manual overrides.
type StatusTracker interface {
	Status(sessionID string) (domain.SessionStatus, bool)
	SetSessionBusy(sessionID string)
	SetSessionIdle(sessionID string)
}

// SessionsInvalidator is told when the session list changed locally.
type SessionsInvalidator interface {
	InvalidateSessions()
}

// Options configures a Service.
type Options struct {
	Remote    Remote
	Tracker   StatusTracker
	Queue     *queue.Queue
	Cache     SessionsInvalidator
	RateLimit rate.Limit
	RateBurst int
	MaxQueued int
	Logger    *slog.Logger
}

// PromptResult reports what happened to a prompt.
type PromptResult struct {
	Queued bool        `json:"queued"`
	Item   *queue.Item `json:"item,omitempty"`
}

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Service is safe for concurrent use.
type Service struct {
	remote    Remote
	tracker   StatusTracker
	queue     *queue.Queue
	cache     SessionsInvalidator
	logger    *slog.Logger
	maxQueued int

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*sessionLimiter

	// sendMu serializes the busy check with the send so two prompts for an
	// idle session cannot both go out.
	sendMu sync.Mutex

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewService creates a chat service and starts limiter eviction.
func NewService(opts Options) (*Service, error) {
	if opts.Remote == nil {
		return nil, errors.New("chat: remote is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("chat: tracker is required")
	}
	if opts.Queue == nil {
		opts.Queue = queue.New()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}
	if opts.MaxQueued <= 0 {
		opts.MaxQueued = DefaultMaxQueued
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		remote:    opts.Remote,
		tracker:   opts.Tracker,
		queue:     opts.Queue,
		cache:     opts.Cache,
		logger:    opts.Logger,
		maxQueued: opts.MaxQueued,
		limit:     opts.RateLimit,
		burst:     opts.RateBurst,
		limiters:  make(map[string]*sessionLimiter),
		done:      make(chan struct{}),
	}
	s.startEviction()
	return s, nil
}

// Create starts a new session.
func (s *Service) Create(ctx context.Context, title string) (*domain.Session, error) {
	sess, err := s.remote.CreateSession(ctx, strings.TrimSpace(title))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.invalidateSessions()
	s.logger.Info("Session created", "session_id", sess.ID)
	return sess, nil
}

// Rename changes a session title.
func (s *Service) Rename(ctx context.Context, id, title string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	sess, err := s.remote.RenameSession(ctx, id, title)
	if err != nil {
		return nil, fmt.Errorf("rename session: %w", err)
	}
	s.invalidateSessions()
	return sess, nil
}

// Delete removes a session and drops its queued prompts.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.remote.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.queue.Clear(id)
	s.forgetLimiter(id)
	s.invalidateSessions()
	s.logger.Info("Session deleted", "session_id", id)
	return nil
}

// Prompt sends text to a session. A busy session gets the prompt queued and
// sent when its current response completes.
func (s *Service) Prompt(ctx context.Context, id, text string) (PromptResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return PromptResult{}, ErrEmptyPrompt
	}
	if !s.allow(id) {
		return PromptResult{}, ErrRateLimited
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if status, ok := s.tracker.Status(id); ok && status.Type != domain.StatusIdle {
		if s.queue.Len(id) >= s.maxQueued {
			return PromptResult{}, ErrSessionBusy
		}
		item := s.queue.Enqueue(id, text)
		s.logger.Info("Prompt queued", "session_id", id, "queued", s.queue.Len(id))
		return PromptResult{Queued: true, Item: &item}, nil
	}

	if err := s.send(ctx, id, text); err != nil {
		return PromptResult{}, err
	}
	return PromptResult{}, nil
}

// Abort stops the response in progress and marks the session idle.
func (s *Service) Abort(ctx context.Context, id string) error {
	if err := s.remote.Abort(ctx, id); err != nil {
		return fmt.Errorf("abort session: %w", err)
	}
	s.tracker.SetSessionIdle(id)
	s.logger.Info("Session aborted", "session_id", id)
	return nil
}

// Queued returns the prompts waiting for a session.
func (s *Service) Queued(id string) []queue.Item {
	return s.queue.Pending(id)
}

// HandleCompletion sends the next queued prompt for a session that just
// finished responding.
func (s *Service) HandleCompletion(c domain.Completion) {
	select {
	case <-s.done:
		return
	default:
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
		defer cancel()

		s.sendMu.Lock()
		defer s.sendMu.Unlock()

		item, ok := s.queue.Pop(c.SessionID)
		if !ok {
			return
		}
		if err := s.send(ctx, c.SessionID, item.Text); err != nil {
			s.logger.Error("Failed to send queued prompt", "session_id", c.SessionID, "item_id", item.ID, "error", err)
			return
		}
		s.logger.Info("Sent queued prompt", "session_id", c.SessionID, "item_id", item.ID, "remaining", s.queue.Len(c.SessionID))
	}()
}

// Close stops background work.
func (s *Service) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Service) send(ctx context.Context, id, text string) error {
	if err := s.remote.Prompt(ctx, id, text); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	s.tracker.SetSessionBusy(id)
	return nil
}

func (s *Service) invalidateSessions() {
	if s.cache != nil {
		s.cache.InvalidateSessions()
	}
}

func (s *Service) allow(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.limiters[id]
	if !ok {
		sl = &sessionLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[id] = sl
	}
	sl.lastSeen = time.Now()
	return sl.limiter.Allow()
}

func (s *Service) forgetLimiter(id string) {
	s.mu.Lock()
	delete(s.limiters, id)
	s.mu.Unlock()
}

// startEviction drops limiters of sessions that have been quiet for a while.
func (s *Service) startEviction() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(limiterIdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.evictIdle(time.Now().Add(-limiterIdleTTL))
			}
		}
	}()
}

func (s *Service) evictIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sl := range s.limiters {
		if sl.lastSeen.Before(cutoff) {
			delete(s.limiters, id)
		}
	}
}
