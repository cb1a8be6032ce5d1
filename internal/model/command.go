package model

import (
	"encoding/json"
)

// ReplyStatus outcome class of one command round trip
type ReplyStatus string

const (
	ReplyStatusOK            ReplyStatus = "ok"
	ReplyStatusDomainError   ReplyStatus = "domain_error"   // Worker-reported failure, passed through verbatim
	ReplyStatusInternalError ReplyStatus = "internal_error" // Transport or process level failure
)

// CommandRequest one request frame on the worker channel
type CommandRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Command       string          `json:"command"`
	Args          json.RawMessage `json:"args,omitempty"`
}

// CommandReply one reply frame, paired to its request by correlation id
type CommandReply struct {
	CorrelationID string          `json:"correlation_id"`
	Status        ReplyStatus     `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *CommandError   `json:"error,omitempty"`
}

// CommandError worker-side failure payload
type CommandError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// DispatchRequest gateway request to run a command against a session
type DispatchRequest struct {
	Command string          `json:"command" binding:"required"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// DispatchResult result of a dispatch as seen by the gateway.
// StateLost is set when the session was rebound to a fresh worker and
// the caller must replay whatever setup the lost worker held.
type DispatchResult struct {
	SessionID string          `json:"session_id"`
	Command   string          `json:"command"`
	Result    json.RawMessage `json:"result,omitempty"`
	StateLost bool            `json:"state_lost,omitempty"`
	WorkerID  string          `json:"worker_id"`
	LatencyMS int64           `json:"latency_ms"`
}
