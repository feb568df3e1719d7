// Package events defines the assistant server's event stream wire format.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/eventsync/internal/domain"
	"github.com/bytedance/sonic"
	sonicutf8 "github.com/bytedance/sonic/utf8"
)

// Type is the discriminant of an Event.
type Type string

const (
	SessionCreated   Type = "session.created"
	SessionUpdated   Type = "session.updated"
	SessionDeleted   Type = "session.deleted"
	SessionError     Type = "session.error"
	SessionStatus    Type = "session.status"
	SessionIdle      Type = "session.idle"
	SessionCompacted Type = "session.compacted"

	MessageUpdated     Type = "message.updated"
	MessageRemoved     Type = "message.removed"
	MessagePartUpdated Type = "message.part.updated"
	MessagePartRemoved Type = "message.part.removed"

	ProviderUpdated Type = "provider.updated"
	LSPUpdated      Type = "lsp.updated"
	ConfigUpdated   Type = "config.updated"

	ToastShow Type = "tui.toast.show"
)

var errMissingPayload = errors.New("envelope has no payload")

// wire decodes like encoding/json: control characters in strings are
// rejected and strings are copied out of the frame.
var wire = sonic.ConfigStd

// Envelope is one frame of the global event stream.
type Envelope struct {
	Directory string `json:"directory"`
	Payload   *Event `json:"payload"`
}

// Event is a tagged union. Properties are decoded on demand because their
// shape depends on Type.
type Event struct {
	Type       Type            `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// Decode parses a frame. Frames that are not JSON or carry no payload are
// rejected; an unknown Type is not an error. Invalid UTF-8 is replaced with
// U+FFFD before decoding.
func Decode(data []byte) (Envelope, error) {
	if !sonicutf8.Validate(data) {
		data = sonicutf8.CorrectWith(nil, data, "\ufffd")
	}
	var env Envelope
	if err := wire.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Payload == nil {
		return Envelope{}, errMissingPayload
	}
	return env, nil
}

// Into decodes the event properties into v.
func (e *Event) Into(v any) error {
	if len(e.Properties) == 0 {
		return fmt.Errorf("%s: no properties", e.Type)
	}
	if err := wire.Unmarshal(e.Properties, v); err != nil {
		return fmt.Errorf("%s: decode properties: %w", e.Type, err)
	}
	return nil
}

// SessionInfo is the server's session record.
type SessionInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	ParentID  string `json:"parentID,omitempty"`
	Time      struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
}

// Domain converts the wire record. Times are Unix milliseconds on the wire.
func (s SessionInfo) Domain() domain.Session {
	return domain.Session{
		ID:        s.ID,
		Title:     s.Title,
		Directory: s.Directory,
		ParentID:  s.ParentID,
		CreatedAt: time.UnixMilli(s.Time.Created),
		UpdatedAt: time.UnixMilli(s.Time.Updated),
	}
}

// SessionProps is carried by session.created, session.updated and session.deleted.
type SessionProps struct {
	Info SessionInfo `json:"info"`
}

// SessionRef is carried by session.idle and session.compacted.
type SessionRef struct {
	SessionID string `json:"sessionID"`
}

// StatusProps is carried by session.status.
type StatusProps struct {
	SessionID string               `json:"sessionID"`
	Status    domain.SessionStatus `json:"status"`
}

// ErrorProps is carried by session.error. Both fields are optional.
type ErrorProps struct {
	SessionID string     `json:"sessionID,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is a named server error.
type ErrorInfo struct {
	Name string `json:"name"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

// MessageProps covers message.updated (Info) and message.removed (IDs).
type MessageProps struct {
	Info *struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionID"`
	} `json:"info,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
}

// Session returns the ID of the session the message belongs to.
func (p MessageProps) Session() string {
	if p.Info != nil && p.Info.SessionID != "" {
		return p.Info.SessionID
	}
	return p.SessionID
}

// PartProps covers message.part.updated (Part) and message.part.removed (IDs).
type PartProps struct {
	Part *struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionID"`
		MessageID string `json:"messageID"`
	} `json:"part,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	PartID    string `json:"partID,omitempty"`
}

// Session returns the ID of the session the part belongs to.
func (p PartProps) Session() string {
	if p.Part != nil && p.Part.SessionID != "" {
		return p.Part.SessionID
	}
	return p.SessionID
}

// ToastProps is carried by tui.toast.show.
type ToastProps struct {
	Title    string              `json:"title,omitempty"`
	Message  string              `json:"message"`
	Variant  domain.ToastVariant `json:"variant"`
	Duration int                 `json:"duration,omitempty"`
}
