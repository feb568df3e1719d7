// Package cache holds server resources fetched on demand and refreshed when
// the event stream reports them stale.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Kind names a class of cached resource.
type Kind string

// Cached resource kinds.
const (
	KindSessions  Kind = "sessions"
	KindMessages  Kind = "messages"
	KindProviders Kind = "providers"
	KindConfig    Kind = "config"
)

// DefaultFetchTimeout bounds one shared fetch.
const DefaultFetchTimeout = 15 * time.Second

// Key identifies one cached resource. SessionID is set only for messages.
type Key struct {
	Kind      Kind
	SessionID string
}

func (k Key) String() string {
	if k.SessionID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.SessionID
}

// Fetcher loads the current value of a key from the server.
type Fetcher func(ctx context.Context, key Key) (any, error)

type entry struct {
	value     any
	stale     bool
	fetchedAt time.Time
}

// Cache is a keyed store of fetched resources. Values that were loaded once
// stay active: invalidating them triggers a background refetch.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	versions map[Key]uint64
	fetchers map[Kind]Fetcher

	group  singleflight.Group
	logger *slog.Logger

	fetchTimeout time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries:        make(map[Key]*entry),
		versions:       make(map[Key]uint64),
		fetchers:       make(map[Kind]Fetcher),
		logger:         logger,
		fetchTimeout:   DefaultFetchTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Register sets the fetcher for a kind, replacing any earlier one.
func (c *Cache) Register(kind Kind, f Fetcher) {
	c.mu.Lock()
	c.fetchers[kind] = f
	c.mu.Unlock()
}

// Get returns the cached value for key, fetching it when missing or stale.
// Concurrent misses for the same key share one fetch.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.fetch(ctx, key)
}

// Peek returns the cached value without fetching. The second result reports
// whether a fresh value was present.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, !e.stale
}

// Invalidate marks key stale. A key that was loaded before is refetched in
// the background; a fetch already in flight will not overwrite the result.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	c.versions[key]++
	e, loaded := c.entries[key]
	if loaded {
		e.stale = true
	}
	c.mu.Unlock()

	if loaded {
		c.refetch(key)
	}
}

// InvalidateKind invalidates every key of a kind.
func (c *Cache) InvalidateKind(kind Kind) {
	c.mu.Lock()
	keys := make(map[Key]bool)
	for k := range c.versions {
		if k.Kind == kind {
			keys[k] = false
		}
	}
	for k, e := range c.entries {
		if k.Kind == kind {
			e.stale = true
			keys[k] = true
		}
	}
	var loaded []Key
	for k, wasLoaded := range keys {
		c.versions[k]++
		if wasLoaded {
			loaded = append(loaded, k)
		}
	}
	c.mu.Unlock()

	for _, k := range loaded {
		c.refetch(k)
	}
}

// Remove drops a key entirely. It is not refetched.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.versions[key]++
	c.mu.Unlock()
}

// InvalidateSessions marks the session list stale.
func (c *Cache) InvalidateSessions() { c.Invalidate(Key{Kind: KindSessions}) }

// InvalidateMessages marks one session's messages stale.
func (c *Cache) InvalidateMessages(sessionID string) {
	c.Invalidate(Key{Kind: KindMessages, SessionID: sessionID})
}

// InvalidateProviders marks the provider list stale.
func (c *Cache) InvalidateProviders() { c.Invalidate(Key{Kind: KindProviders}) }

// InvalidateConfig marks the server configuration stale.
func (c *Cache) InvalidateConfig() { c.Invalidate(Key{Kind: KindConfig}) }

// Close stops background refetches and waits for them to return.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) fetch(ctx context.Context, key Key) (any, error) {
	c.mu.Lock()
	f, ok := c.fetchers[key.Kind]
	version := c.versions[key]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for %s", key.Kind)
	}

	// Fetches are shared per version so a request started after an
	// invalidation never joins one started before it. The shared fetch runs
	// on the cache's context; each caller only stops waiting on its own.
	flight := key.String() + "#" + strconv.FormatUint(version, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		fctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
		defer cancel()
		value, err := f(fctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.versions[key] == version {
			c.entries[key] = &entry{value: value, fetchedAt: time.Now()}
		}
		c.mu.Unlock()
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("fetch %s: %w", key, res.Err)
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", key, ctx.Err())
	}
}

func (c *Cache) refetch(key Key) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.fetch(c.ctx, key); err != nil {
			c.logger.Debug("[CACHE] Background refetch failed", "key", key.String(), "error", err)
		}
	}()
}

// Load is a typed Get.
func Load[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cached %s has type %T", key, v)
	}
	return typed, nil
}
