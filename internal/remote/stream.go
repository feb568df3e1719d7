package remote

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	sse "github.com/tmaxmax/go-sse"
)

// EventPath is the server's global event stream.
const EventPath = "/global/event"

// maxEventSize bounds one SSE event. Tool results with large diffs can be
// big, so this is well above the library default.
const maxEventSize = 8 << 20

// EventTransport opens the server's event stream. It satisfies
// tracker.Transport.
type EventTransport struct {
	client *Client
}

// Events returns the event stream transport for this client.
func (c *Client) Events() *EventTransport {
	return &EventTransport{client: c}
}

// Open connects to the event stream. The connection stays open until ctx is
// cancelled, the server closes it, or a read fails. Only data-carrying
// events are yielded; comments and keepalives are skipped.
func (t *EventTransport) Open(ctx context.Context) (iter.Seq2[[]byte, error], error) {
	c := t.client
	req, err := c.newRequest(ctx, http.MethodGet, EventPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", EventPath, err)
	}
	if err := checkStatus(resp, http.MethodGet, EventPath); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return func(yield func([]byte, error) bool) {
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("Failed to close event stream body", "error", closeErr)
			}
		}()
		for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
			if err != nil {
				yield(nil, fmt.Errorf("read event stream: %w", err))
				return
			}
			if ev.Data == "" {
				continue
			}
			if !yield([]byte(ev.Data), nil) {
				return
			}
		}
	}, nil
}
