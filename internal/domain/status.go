package domain

// StatusType discriminates SessionStatus.
type StatusType string

const (
	// StatusIdle means the assistant is not working on the session.
	StatusIdle StatusType = "idle"
	// StatusBusy means the assistant is producing a response.
	StatusBusy StatusType = "busy"
	// StatusRetry means a request failed and the server will retry it.
	StatusRetry StatusType = "retry"
)

// SessionStatus is the server-reported state of a session. Attempt, Message
// and Next are only set for StatusRetry; Next is the retry time in Unix
// milliseconds.
type SessionStatus struct {
	Type    StatusType `json:"type"`
	Attempt int        `json:"attempt,omitempty"`
	Message string     `json:"message,omitempty"`
	Next    int64      `json:"next,omitempty"`
}

// Idle returns an idle status.
func Idle() SessionStatus { return SessionStatus{Type: StatusIdle} }

// Busy returns a busy status.
func Busy() SessionStatus { return SessionStatus{Type: StatusBusy} }

// IsBusy reports whether the status is exactly busy. Retry is not busy.
func (s SessionStatus) IsBusy() bool {
	return s.Type == StatusBusy
}
