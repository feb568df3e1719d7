// Package queue holds prompts typed while a session was still busy.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is one queued prompt.
type Item struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is a per-session FIFO of unsent prompts. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items map[string][]Item
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: make(map[string][]Item)}
}

// Enqueue appends a prompt for a session.
func (q *Queue) Enqueue(sessionID, text string) Item {
	item := Item{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	q.mu.Lock()
	q.items[sessionID] = append(q.items[sessionID], item)
	q.mu.Unlock()
	return item
}

// Pending returns a copy of the session's queued prompts, oldest first.
func (q *Queue) Pending(sessionID string) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items[sessionID]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Pop removes and returns the oldest queued prompt.
func (q *Queue) Pop(sessionID string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items[sessionID]
	if len(items) == 0 {
		return Item{}, false
	}
	item := items[0]
	if len(items) == 1 {
		delete(q.items, sessionID)
	} else {
		q.items[sessionID] = items[1:]
	}
	return item, true
}

// Remove drops a single queued prompt by ID.
func (q *Queue) Remove(sessionID, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items[sessionID]
	for i, item := range items {
		if item.ID != id {
			continue
		}
		rest := append(items[:i:i], items[i+1:]...)
		if len(rest) == 0 {
			delete(q.items, sessionID)
		} else {
			q.items[sessionID] = rest
		}
		return true
	}
	return false
}

// Clear drops every queued prompt of a session.
func (q *Queue) Clear(sessionID string) {
	q.mu.Lock()
	delete(q.items, sessionID)
	q.mu.Unlock()
}

// Len returns how many prompts are queued for a session.
func (q *Queue) Len(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[sessionID])
}
