package tracker

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
)

// fakeTransport hands out one fakeStream per Open call.
type fakeTransport struct {
	mu       sync.Mutex
	openErrs []error
	opens    []time.Time
	streams  chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: make(chan *fakeStream, 16)}
}

func (f *fakeTransport) failNextOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs = append(f.openErrs, err)
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

func (f *fakeTransport) openTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.opens...)
}

func (f *fakeTransport) Open(ctx context.Context) (iter.Seq2[[]byte, error], error) {
	f.mu.Lock()
	f.opens = append(f.opens, time.Now())
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	s := &fakeStream{frames: make(chan fakeFrame)}
	f.streams <- s
	return func(yield func([]byte, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case fr, ok := <-s.frames:
				if !ok {
					return
				}
				cont := yield(fr.data, fr.err)
				close(fr.done)
				if !cont {
					return
				}
			}
		}
	}, nil
}

// waitStream returns the next opened stream.
func (f *fakeTransport) waitStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the event stream to open")
		return nil
	}
}

type fakeFrame struct {
	data []byte
	err  error
	done chan struct{}
}

type fakeStream struct {
	frames chan fakeFrame
}

// send delivers a frame and waits until the tracker has handled it.
func (s *fakeStream) send(t *testing.T, raw string) {
	t.Helper()
	s.deliver(t, fakeFrame{data: []byte(raw), done: make(chan struct{})})
}

// fail makes the stream report a transport error.
func (s *fakeStream) fail(t *testing.T) {
	t.Helper()
	s.deliver(t, fakeFrame{err: errors.New("connection reset"), done: make(chan struct{})})
}

func (s *fakeStream) deliver(t *testing.T, fr fakeFrame) {
	t.Helper()
	select {
	case s.frames <- fr:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out delivering frame")
	}
	select {
	case <-fr.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame to be handled")
	}
}

// recorder implements every collaborator interface.
type recorder struct {
	mu              sync.Mutex
	sessionInvals   int
	messageInvals   map[string]int
	providerInvals  int
	configInvals    int
	toasts          []string
	completions     []domain.Completion
	errors          []domain.SessionError
	cleared         []string
	titles          map[string]string
	upserted        []domain.Session
	deleted         []string
	connectionFlags []bool
	resets          int
}

func newRecorder() *recorder {
	return &recorder{
		messageInvals: make(map[string]int),
		titles:        make(map[string]string),
	}
}

func (r *recorder) InvalidateSessions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionInvals++
}

func (r *recorder) InvalidateMessages(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageInvals[id]++
}

func (r *recorder) InvalidateProviders() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerInvals++
}

func (r *recorder) InvalidateConfig() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configInvals++
}

func (r *recorder) addToast(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, s)
}

func (r *recorder) Info(m string)    { r.addToast("info|" + m) }
func (r *recorder) Success(m string) { r.addToast("success|" + m) }
func (r *recorder) Warning(m string) { r.addToast("warning|" + m) }
func (r *recorder) Error(m string)   { r.addToast("error|" + m) }

func (r *recorder) NotifyCompletion(c domain.Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
}

func (r *recorder) SetSessionError(e domain.SessionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *recorder) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, id)
}

func (r *recorder) SessionTitle(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.titles[id], nil
}

func (r *recorder) UpsertSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, *s)
	return nil
}

func (r *recorder) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *recorder) ConnectionChanged(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectionFlags = append(r.connectionFlags, connected)
}

func (r *recorder) StatusChanged(string, domain.SessionStatus) {}

func (r *recorder) StatusesReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func (r *recorder) completionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}

func (r *recorder) messageInvalidations(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageInvals[id]
}
