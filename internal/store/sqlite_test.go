package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "eventsync.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionUpsertAndTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.UnixMilli(1700000000000)
	if err := s.UpsertSession(ctx, &domain.Session{ID: "s1", Title: "Fix login", Directory: "/work", CreatedAt: created, UpdatedAt: created}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	title, err := s.SessionTitle(ctx, "s1")
	if err != nil || title != "Fix login" {
		t.Fatalf("SessionTitle = %q, %v", title, err)
	}

	// An update without a title keeps the known one.
	if err := s.UpsertSession(ctx, &domain.Session{ID: "s1", UpdatedAt: created.Add(time.Second)}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v %v", got, err)
	}
	if got.Title != "Fix login" || got.Directory != "/work" {
		t.Fatalf("unexpected session after partial update: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed: %v", got.CreatedAt)
	}
}

func TestSessionTitleUnknown(t *testing.T) {
	s := newTestStore(t)
	title, err := s.SessionTitle(context.Background(), "missing")
	if err != nil || title != "" {
		t.Fatalf("expected empty title, got %q, %v", title, err)
	}
	got, err := s.GetSession(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil session, got %+v, %v", got, err)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i, id := range []string{"old", "new"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := s.UpsertSession(ctx, &domain.Session{ID: id, Title: id, CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("UpsertSession: %v", err)
		}
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" {
		t.Fatalf("unexpected order: %+v", sessions)
	}

	if err := s.DeleteSession(ctx, "new"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := s.DeleteSession(ctx, "new"); err != nil {
		t.Fatalf("DeleteSession twice: %v", err)
	}
	sessions, _ = s.ListSessions(ctx)
	if len(sessions) != 1 || sessions[0].ID != "old" {
		t.Fatalf("unexpected sessions after delete: %+v", sessions)
	}
}

func TestNotificationsRecentAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	items := []domain.Notification{
		{ID: "n1", Kind: domain.KindToast, Variant: domain.ToastInfo, Body: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "n2", Kind: domain.KindCompletion, Variant: domain.ToastSuccess, SessionID: "s1", Title: "Response ready", Body: "done", Path: "/session/s1", CreatedAt: now.Add(-time.Minute)},
		{ID: "n3", Kind: domain.KindSessionError, Variant: domain.ToastError, Body: "boom", Code: "APIError", CreatedAt: now},
	}
	for i := range items {
		if err := s.InsertNotification(ctx, &items[i]); err != nil {
			t.Fatalf("InsertNotification: %v", err)
		}
	}

	recent, err := s.RecentNotifications(ctx, 2)
	if err != nil {
		t.Fatalf("RecentNotifications: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "n3" || recent[1].ID != "n2" {
		t.Fatalf("unexpected recent: %+v", recent)
	}
	if recent[1].SessionID != "s1" || recent[1].Path != "/session/s1" || recent[1].Kind != domain.KindCompletion {
		t.Fatalf("fields not round-tripped: %+v", recent[1])
	}

	deleted, err := s.PruneNotifications(ctx, now.Add(-24*time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("PruneNotifications = %d, %v", deleted, err)
	}
	all, _ := s.RecentNotifications(ctx, 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(all))
	}
}

func TestPruneWorkerRuns(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := domain.Notification{ID: "n1", Kind: domain.KindToast, Body: "old", CreatedAt: time.Now().Add(-time.Hour)}
	if err := s.InsertNotification(ctx, &old); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}

	StartPruneWorker(ctx, s, 10*time.Millisecond, time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all, err := s.RecentNotifications(ctx, 0)
		if err == nil && len(all) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("prune worker did not delete old notification")
}
