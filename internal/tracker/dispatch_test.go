package tracker

import (
	"testing"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/stretchr/testify/require"
)

func connected(t *testing.T) (*Tracker, *fakeStream, *recorder) {
	t.Helper()
	tr, ft, rec := newTestTracker(t)
	tr.Connect()
	return tr, ft.waitStream(t), rec
}

func TestBusyThenIdleNotifiesOnce(t *testing.T) {
	_, s, rec := connected(t)
	rec.titles["ses_1"] = "Refactor parser"

	s.send(t, statusFrame("ses_1", "busy"))
	s.send(t, idleFrame("ses_1"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.completions, 1)
	c := rec.completions[0]
	require.Equal(t, "ses_1", c.SessionID)
	require.Equal(t, `"Refactor parser" has finished responding`, c.Body)
	require.Equal(t, "/session/ses_1", c.Path)
	require.Equal(t, 1, rec.messageInvals["ses_1"])
}

func TestCompletionFallsBackToShortID(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, statusFrame("abcdefgh12345678", "busy"))
	s.send(t, idleFrame("abcdefgh12345678"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.completions, 1)
	require.Equal(t, `"Session abcdefgh" has finished responding`, rec.completions[0].Body)
}

func TestRetryDoesNotArmCompletion(t *testing.T) {
	tr, s, rec := connected(t)

	s.send(t, `{"payload":{"type":"session.status","properties":{"sessionID":"s1","status":{"type":"retry","attempt":1,"message":"overloaded","next":123}}}}`)
	s.send(t, idleFrame("s1"))

	require.Zero(t, rec.completionCount())
	status, _ := tr.Status("s1")
	require.Equal(t, domain.StatusRetry, status.Type)
	require.Equal(t, "overloaded", status.Message)
}

func TestSecondIdleIsNoop(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, statusFrame("s1", "busy"))
	s.send(t, idleFrame("s1"))
	s.send(t, idleFrame("s1"))

	require.Equal(t, 1, rec.completionCount())
}

func TestIdleWithoutBusyIsNoop(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, idleFrame("never-busy"))

	require.Zero(t, rec.completionCount())
	require.Zero(t, rec.messageInvalidations("never-busy"))
}

func TestBusyRetryBusyIdleNotifiesOnce(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, statusFrame("s1", "busy"))
	s.send(t, statusFrame("s1", "retry"))
	s.send(t, statusFrame("s1", "busy"))
	s.send(t, idleFrame("s1"))

	require.Equal(t, 1, rec.completionCount())
}

func TestSessionLifecycleEvents(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, `{"directory":"/repo","payload":{"type":"session.created","properties":{"info":{"id":"s1","title":"New session","time":{"created":1,"updated":1}}}}}`)
	s.send(t, `{"directory":"/repo","payload":{"type":"session.updated","properties":{"info":{"id":"s1","title":"Renamed","directory":"/other","time":{"created":1,"updated":2}}}}}`)
	s.send(t, `{"directory":"/repo","payload":{"type":"session.deleted","properties":{"info":{"id":"s1","title":"Renamed"}}}}`)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 3, rec.sessionInvals)
	require.Len(t, rec.upserted, 2)
	require.Equal(t, "/repo", rec.upserted[0].Directory, "envelope directory fills the gap")
	require.Equal(t, "/other", rec.upserted[1].Directory)
	require.Equal(t, "Renamed", rec.upserted[1].Title)
	require.Equal(t, []string{"s1"}, rec.cleared)
	require.Equal(t, []string{"s1"}, rec.deleted)
}

func TestSessionErrorSurfaced(t *testing.T) {
	_, s, rec := connected(t)

	before := time.Now()
	s.send(t, `{"payload":{"type":"session.error","properties":{"sessionID":"s1","error":{"name":"ProviderAuthError","data":{"message":"invalid api key"}}}}}`)
	s.send(t, `{"payload":{"type":"session.error"}}`)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errors, 2)
	require.Equal(t, "s1", rec.errors[0].SessionID)
	require.Equal(t, "invalid api key", rec.errors[0].Message)
	require.Equal(t, "ProviderAuthError", rec.errors[0].Code)
	require.False(t, rec.errors[0].Timestamp.Before(before))
	require.Equal(t, defaultErrorMessage, rec.errors[1].Message)
	require.Empty(t, rec.errors[1].Code)
}

func TestMessageEventsInvalidateMessages(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, `{"payload":{"type":"message.updated","properties":{"info":{"id":"m1","sessionID":"s1"}}}}`)
	s.send(t, `{"payload":{"type":"message.removed","properties":{"sessionID":"s1","messageID":"m1"}}}`)
	s.send(t, `{"payload":{"type":"session.compacted","properties":{"sessionID":"s1"}}}`)

	require.Equal(t, 3, rec.messageInvalidations("s1"))
}

func TestPartUpdatesAreThrottled(t *testing.T) {
	_, s, rec := connected(t)

	for i := 0; i < 20; i++ {
		s.send(t, `{"payload":{"type":"message.part.updated","properties":{"part":{"id":"p1","sessionID":"s1","messageID":"m1"}}}}`)
	}
	require.Equal(t, 1, rec.messageInvalidations("s1"))

	require.Eventually(t, func() bool { return rec.messageInvalidations("s1") == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testThrottleWindow)
	require.Equal(t, 2, rec.messageInvalidations("s1"))
}

func TestPartThrottleIsPerSession(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, `{"payload":{"type":"message.part.updated","properties":{"part":{"id":"p1","sessionID":"a","messageID":"m1"}}}}`)
	s.send(t, `{"payload":{"type":"message.part.removed","properties":{"sessionID":"b","messageID":"m2","partID":"p2"}}}`)

	require.Equal(t, 1, rec.messageInvalidations("a"))
	require.Equal(t, 1, rec.messageInvalidations("b"))
}

func TestProviderAndLSPUpdatesInvalidateConfig(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, `{"payload":{"type":"provider.updated","properties":{}}}`)
	s.send(t, `{"payload":{"type":"lsp.updated","properties":{}}}`)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 2, rec.providerInvals)
	require.Equal(t, 2, rec.configInvals)
}

func TestToastVariants(t *testing.T) {
	_, s, rec := connected(t)

	s.send(t, `{"payload":{"type":"tui.toast.show","properties":{"message":"saved","variant":"success"}}}`)
	s.send(t, `{"payload":{"type":"tui.toast.show","properties":{"title":"Build","message":"failed","variant":"error"}}}`)
	s.send(t, `{"payload":{"type":"tui.toast.show","properties":{"message":"slow","variant":"warning"}}}`)
	s.send(t, `{"payload":{"type":"tui.toast.show","properties":{"message":"hello","variant":"info"}}}`)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{
		"success|saved",
		"error|Build: failed",
		"warning|slow",
		"info|hello",
	}, rec.toasts)
}

func TestUnknownEventsIgnored(t *testing.T) {
	tr, s, rec := connected(t)

	s.send(t, `{"payload":{"type":"server.connected","properties":{}}}`)
	s.send(t, `{"payload":{"type":"file.edited","properties":{"file":"main.go"}}}`)

	require.Zero(t, tr.Snapshot().DroppedFrames)
	require.Zero(t, rec.completionCount())
	require.True(t, tr.IsConnected())
}
