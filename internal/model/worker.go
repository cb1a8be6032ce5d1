package model

import (
	"time"
)

// WorkerHealth worker health state
type WorkerHealth string

const (
	WorkerHealthHealthy WorkerHealth = "HEALTHY" // Healthy - heartbeating, eligible for new sessions
	WorkerHealthSuspect WorkerHealth = "SUSPECT" // Suspect - missed heartbeats, debounce in progress
	WorkerHealthDead    WorkerHealth = "DEAD"    // Dead - missed the larger threshold, drained
)

// Worker compute-server record tracked by the pool
type Worker struct {
	ID            string       `json:"id"`
	Endpoint      string       `json:"endpoint"` // Transport endpoint the manager dials
	Health        WorkerHealth `json:"health"`
	Capacity      int          `json:"capacity"`       // Sessions the worker may host (1 = full isolation)
	Load          int          `json:"load"`           // Current number of bound sessions
	BoundSessions []string     `json:"bound_sessions"` // Session IDs currently bound
	MissedProbes  int          `json:"missed_probes"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	RegisteredAt  time.Time    `json:"registered_at"`
	Version       string       `json:"version,omitempty"`
}

// HasCapacity reports whether the worker can take another session.
func (w *Worker) HasCapacity() bool {
	return w.Load < w.Capacity
}

// LoadRatio returns load/capacity for least-loaded selection.
func (w *Worker) LoadRatio() float64 {
	if w.Capacity <= 0 {
		return 1
	}
	return float64(w.Load) / float64(w.Capacity)
}

// RegisterRequest worker registration request
type RegisterRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Capacity int    `json:"capacity"`
	Version  string `json:"version,omitempty"`
}

// RegisterResponse worker registration response
type RegisterResponse struct {
	WorkerID string `json:"worker_id"`
}

// HeartbeatRequest worker heartbeat request
type HeartbeatRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
	Version  string `json:"version,omitempty"`
}
