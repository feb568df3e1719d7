package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/shared"
)

// DefaultNotificationLimit caps RecentNotifications when limit is not positive.
const DefaultNotificationLimit = 50

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the prune worker run alongside stream writes.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		directory TEXT NOT NULL DEFAULT '',
		parent_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS notifications (
		notification_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		variant TEXT NOT NULL DEFAULT '',
		session_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertSession creates or updates a session record. An empty title never
// overwrites a known one.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, title, directory, parent_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		title = CASE WHEN excluded.title = '' THEN sessions.title ELSE excluded.title END,
		directory = CASE WHEN excluded.directory = '' THEN sessions.directory ELSE excluded.directory END,
		parent_id = COALESCE(excluded.parent_id, sessions.parent_id),
		updated_at = excluded.updated_at`

	var parentID any
	if sess.ParentID != "" {
		parentID = sess.ParentID
	}
	now := time.Now()
	created, updated := sess.CreatedAt, sess.UpdatedAt
	if created.IsZero() || created.UnixMilli() == 0 {
		created = now
	}
	if updated.IsZero() || updated.UnixMilli() == 0 {
		updated = now
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID, sess.Title, sess.Directory, parentID,
			created.UnixMilli(), updated.UnixMilli(),
		)
		return err
	})
}

// DeleteSession removes a session record.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete session", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		return err
	})
}

// GetSession returns a session, or nil when unknown.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, title, directory, parent_id, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// SessionTitle returns the recorded title, or "" when unknown.
func (s *SQLiteStore) SessionTitle(ctx context.Context, sessionID string) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM sessions WHERE session_id = ?`, sessionID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query session title: %w", err)
	}
	return title, nil
}

// ListSessions returns recorded sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	query := `
		SELECT session_id, title, directory, parent_id, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var parentID sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Directory, &parentID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.ParentID = parentID.String
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// InsertNotification records a notification.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *domain.Notification) error {
	query := `
	INSERT INTO notifications (notification_id, kind, variant, session_id, title, body, code, path, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var sessionID any
	if n.SessionID != "" {
		sessionID = n.SessionID
	}
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "insert notification", func() error {
		_, err := s.db.ExecContext(ctx, query,
			n.ID, string(n.Kind), string(n.Variant), sessionID,
			n.Title, n.Body, n.Code, n.Path, created.UnixMilli(),
		)
		return err
	})
}

// RecentNotifications returns up to limit notifications, newest first.
func (s *SQLiteStore) RecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	query := `
		SELECT notification_id, kind, variant, session_id, title, body, code, path, created_at
		FROM notifications ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close notification rows", "error", closeErr)
		}
	}()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var kind, variant string
		var sessionID sql.NullString
		var createdAt int64
		if err := rows.Scan(&n.ID, &kind, &variant, &sessionID, &n.Title, &n.Body, &n.Code, &n.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		n.Kind = domain.NotificationKind(kind)
		n.Variant = domain.ToastVariant(variant)
		n.SessionID = sessionID.String
		n.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// PruneNotifications deletes notifications created before cutoff.
func (s *SQLiteStore) PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "prune notifications", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
