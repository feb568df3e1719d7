package remote

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sse "github.com/tmaxmax/go-sse"
)

func TestEventTransportYieldsData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+EventPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/work/app", r.URL.Query().Get("directory"))
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			return
		}
		keepalive := &sse.Message{}
		keepalive.AppendComment("keepalive")
		_ = sess.Send(keepalive)
		for _, data := range []string{`{"payload":{"type":"server.connected"}}`, `{"payload":{"type":"session.idle","properties":{"sessionID":"s1"}}}`} {
			msg := &sse.Message{}
			msg.AppendData(data)
			_ = sess.Send(msg)
		}
		_ = sess.Flush()
	})
	c := newTestClient(t, mux, "/work/app")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frames, err := c.Events().Open(ctx)
	require.NoError(t, err)

	var got []string
	for frame, err := range frames {
		require.NoError(t, err)
		got = append(got, string(frame))
	}
	assert.Equal(t, []string{
		`{"payload":{"type":"server.connected"}}`,
		`{"payload":{"type":"session.idle","properties":{"sessionID":"s1"}}}`,
	}, got)
}

func TestEventTransportRejectsErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+EventPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux, "")

	_, err := c.Events().Open(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestEventTransportStopsOnCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+EventPath, func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			return
		}
		msg := &sse.Message{}
		msg.AppendData(`{"payload":{"type":"server.connected"}}`)
		_ = sess.Send(msg)
		_ = sess.Flush()
		<-r.Context().Done()
	})
	c := newTestClient(t, mux, "")

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := c.Events().Open(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, err := range frames {
			if err != nil {
				return
			}
			cancel()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
}
