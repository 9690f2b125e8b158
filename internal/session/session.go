// ABOUTME: Session and persisted-turn types plus sentinel errors for the session directory.
// ABOUTME: Shared by the remote REST store, the local fallback store, and the controller.

package session

import (
	"errors"
	"time"

	"github.com/lantern-health/chartclient/internal/stream"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrSessionLimit is returned when creating a session would exceed the
// per-identity maximum. It is a distinct, recoverable condition: callers are
// expected to offer "delete oldest and retry" rather than a dead end.
var ErrSessionLimit = errors.New("session limit reached")

// DefaultMaxSessions is the client-enforced ceiling on sessions per identity.
const DefaultMaxSessions = 10

// Session is a named, timestamped conversation thread.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// Turn is one persisted half-turn (a user query or an assistant response)
// as stored by the session directory.
type Turn struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"` // "user" or "assistant"
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	Sources   []stream.Source `json:"sources,omitempty"`
	ToolCalls []string        `json:"tool_calls,omitempty"`
}
