// Package domain contains core domain types for eventsync.
package domain

import (
	"time"
)

// shortIDLength is how much of a session ID is shown when no title is known.
const shortIDLength = 8

// Session is a conversation on the assistant server.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Directory string    `json:"directory,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayTitle returns the session title, or a short-ID fallback when empty.
func (s *Session) DisplayTitle() string {
	return TitleOrFallback(s.Title, s.ID)
}

// TitleOrFallback returns title if set, otherwise "Session " plus the first
// eight characters of id.
func TitleOrFallback(title, id string) string {
	if title != "" {
		return title
	}
	return "Session " + ShortID(id)
}

// ShortID truncates a session ID for display.
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// SessionPath is the client-side route that opens a session.
func SessionPath(id string) string {
	return "/session/" + id
}
