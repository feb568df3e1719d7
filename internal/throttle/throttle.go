// Package throttle implements a keyed leading+trailing throttle.
package throttle

import (
	"sync"
	"time"
)

// DefaultWindow is the cooldown used for streaming invalidations.
const DefaultWindow = 200 * time.Millisecond

// Throttle limits how often a callback runs per key. The first call in a
// window runs immediately; if further calls arrive before the window closes,
// the most recent callback runs exactly once more when it does.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	keys map[string]*cooldown
}

type cooldown struct {
	timer   *time.Timer
	pending bool
	fn      func()
}

// New returns a Throttle with the given cooldown window.
func New(window time.Duration) *Throttle {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throttle{
		window: window,
		keys:   make(map[string]*cooldown),
	}
}

// Do runs fn now unless key is cooling down, in which case fn is kept for
// the trailing call.
func (t *Throttle) Do(key string, fn func()) {
	t.mu.Lock()
	if c, ok := t.keys[key]; ok {
		c.pending = true
		c.fn = fn
		t.mu.Unlock()
		return
	}

	c := &cooldown{}
	c.timer = time.AfterFunc(t.window, func() { t.expire(key, c) })
	t.keys[key] = c
	t.mu.Unlock()

	fn()
}

func (t *Throttle) expire(key string, c *cooldown) {
	t.mu.Lock()
	if t.keys[key] != c {
		// Stopped, or replaced after a Stop.
		t.mu.Unlock()
		return
	}
	delete(t.keys, key)
	pending, fn := c.pending, c.fn
	t.mu.Unlock()

	if pending && fn != nil {
		fn()
	}
}

// Active returns the number of keys currently cooling down.
func (t *Throttle) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// Stop cancels every cooldown and drops pending trailing calls. The Throttle
// remains usable afterwards.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, c := range t.keys {
		c.timer.Stop()
		delete(t.keys, key)
	}
}
