package chatclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound is matched (errors.Is) when the backend no longer knows the session.
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("chatclient: message is empty")
)

const (
	defaultCreateSessionMsg = "failed to create chat session"
	defaultSendMsg          = "failed to send message"
	defaultStreamMsg        = "failed to receive streamed answer"
)

// SessionCreationError is returned when the backend refuses or fails to open a session.
type SessionCreationError struct {
	Status  int
	Message string
	Err     error
}

func (e *SessionCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create session: %s: %v", e.Message, e.Err)
	}
	return "create session: " + e.Message
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// APIError carries the server-provided message (or the per-operation default)
// for a failed call. Err holds the transport error, or ErrSessionNotFound.
type APIError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrSessionNotFound) {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func isSessionNotFound(msgs ...string) bool {
	for _, m := range msgs {
		if strings.Contains(strings.ToLower(m), "session not found") {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
