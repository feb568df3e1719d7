// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
)

// Repository persists sessions seen on the event stream and the
// notification history.
type Repository interface {
	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, s *domain.Session) error

	// DeleteSession removes a session record. Missing sessions are not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetSession returns a session, or nil when unknown.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SessionTitle returns the recorded title, or "" when unknown.
	SessionTitle(ctx context.Context, sessionID string) (string, error)

	// ListSessions returns recorded sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]domain.Session, error)

	// InsertNotification records a notification.
	InsertNotification(ctx context.Context, n *domain.Notification) error

	// RecentNotifications returns up to limit notifications, newest first.
	RecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error)

	// PruneNotifications deletes notifications created before cutoff.
	PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
