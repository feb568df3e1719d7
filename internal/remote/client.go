// Package remote talks to the assistant server's HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/ashureev/eventsync/internal/events"
)

const (
	// DefaultTimeout bounds ordinary API requests. The event stream has none.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4 * 1024
)

// ErrNotFound is matched by a StatusError with a 404 code.
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Message is one conversation entry. Its shape is owned by the server and
// passed through untouched.
type Message = json.RawMessage

// Client is an assistant server API client.
type Client struct {
	baseURL   *url.URL
	directory string
	http      *http.Client
	stream    *http.Client
	logger    *slog.Logger
}

// NewClient creates a client for the server at baseURL. When directory is
// set, every request is scoped to that project directory.
func NewClient(baseURL, directory string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   u,
		directory: directory,
		http:      &http.Client{Timeout: DefaultTimeout},
		stream:    &http.Client{},
		logger:    logger,
	}, nil
}

// ListSessions returns all sessions, most recently updated first as the
// server orders them.
func (c *Client) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var infos []events.SessionInfo
	if err := c.call(ctx, http.MethodGet, "/session", nil, &infos); err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, info.Domain())
	}
	return sessions, nil
}

// GetSession returns one session.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var info events.SessionInfo
	if err := c.call(ctx, http.MethodGet, "/session/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	s := info.Domain()
	return &s, nil
}

// CreateSession starts a new session. An empty title lets the server pick one.
func (c *Client) CreateSession(ctx context.Context, title string) (*domain.Session, error) {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	var info events.SessionInfo
	if err := c.call(ctx, http.MethodPost, "/session", body, &info); err != nil {
		return nil, err
	}
	s := info.Domain()
	return &s, nil
}

// RenameSession changes a session title.
func (c *Client) RenameSession(ctx context.Context, id, title string) (*domain.Session, error) {
	var info events.SessionInfo
	if err := c.call(ctx, http.MethodPatch, "/session/"+url.PathEscape(id), map[string]string{"title": title}, &info); err != nil {
		return nil, err
	}
	s := info.Domain()
	return &s, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/session/"+url.PathEscape(id), nil, nil)
}

// ListMessages returns the messages of a session.
func (c *Client) ListMessages(ctx context.Context, id string) ([]Message, error) {
	var msgs []Message
	if err := c.call(ctx, http.MethodGet, "/session/"+url.PathEscape(id)+"/message", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Prompt submits a user message. The server answers immediately and streams
// the response as events.
func (c *Client) Prompt(ctx context.Context, id, text string) error {
	body := map[string]any{
		"parts": []textPart{{Type: "text", Text: text}},
	}
	return c.call(ctx, http.MethodPost, "/session/"+url.PathEscape(id)+"/prompt_async", body, nil)
}

// Abort stops the response in progress for a session.
func (c *Client) Abort(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/session/"+url.PathEscape(id)+"/abort", nil, nil)
}

// Providers returns the configured model providers.
func (c *Client) Providers(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/config/providers", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Config returns the server configuration.
func (c *Client) Config(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/config", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if c.directory != "" {
		q := u.Query()
		q.Set("directory", c.directory)
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "path", path, "error", closeErr)
		}
	}()
	c.logger.Debug("Server request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if err := checkStatus(resp, method, path); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
