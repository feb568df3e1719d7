package domain

import (
	"time"
)

// NotificationKind categorizes user-facing notifications.
type NotificationKind string

const (
	// KindCompletion is raised when a busy session goes idle.
	KindCompletion NotificationKind = "completion"
	// KindToast is a server-requested toast.
	KindToast NotificationKind = "toast"
	// KindSessionError carries a session-level error.
	KindSessionError NotificationKind = "session_error"
)

// ToastVariant is the severity of a toast.
type ToastVariant string

const (
	ToastInfo    ToastVariant = "info"
	ToastSuccess ToastVariant = "success"
	ToastWarning ToastVariant = "warning"
	ToastError   ToastVariant = "error"
)

// Completion is raised once per busy→idle transition of a session.
type Completion struct {
	SessionID string
	Title     string
	Body      string
	// Path is where a click on the notification navigates.
	Path string
}

// SessionError is a structured error reported by the server for a session.
type SessionError struct {
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is the persisted and broadcast form of completions, toasts and
// session errors.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Variant   ToastVariant     `json:"variant,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Title     string           `json:"title,omitempty"`
	Body      string           `json:"body"`
	Code      string           `json:"code,omitempty"`
	Path      string           `json:"path,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
