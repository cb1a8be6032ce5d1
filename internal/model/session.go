package model

import (
	"time"
)

// SessionState session lifecycle state
type SessionState string

const (
	SessionStatePending  SessionState = "PENDING"  // Created and bound, no command completed yet
	SessionStateActive   SessionState = "ACTIVE"   // Bound, recently dispatched
	SessionStateIdle     SessionState = "IDLE"     // Bound, inactive past the idle threshold
	SessionStateDetached SessionState = "DETACHED" // Worker lost, recovery window open
	SessionStateExpired  SessionState = "EXPIRED"  // Terminal
)

// Session logical binding between a user and a worker
type Session struct {
	ID             string       `json:"id"`       // Opaque, unguessable token
	Owner          string       `json:"owner"`    // Display name, not an auth principal
	WorkerID       string       `json:"worker_id"` // Empty while DETACHED or awaiting allocation
	State          SessionState `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// Bound reports whether the session currently holds a worker.
func (s *Session) Bound() bool {
	return s.WorkerID != "" && s.State != SessionStateDetached && s.State != SessionStateExpired
}

// CreateSessionRequest gateway request to open a session
type CreateSessionRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// CreateSessionResponse gateway response with the allocated binding
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
}

// SessionInfo session view returned by list/get endpoints
type SessionInfo struct {
	ID             string       `json:"id"`
	Owner          string       `json:"owner"`
	WorkerID       string       `json:"worker_id,omitempty"`
	State          SessionState `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}
