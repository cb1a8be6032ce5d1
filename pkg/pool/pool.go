// Package pool tracks the set of known compute workers: registration,
// heartbeat debounce, capacity accounting and selection for new sessions.
// All mutations happen under one short-lived lock; nothing here blocks on
// a worker round trip.
package pool

import (
	"errors"
	"sync"
	"time"

	"starbench/internal/model"
	"starbench/pkg/logger"

	"github.com/google/uuid"
)

var (
	// ErrPoolExhausted no healthy worker has spare capacity.
	ErrPoolExhausted = errors.New("pool exhausted: no healthy worker has spare capacity")
	// ErrUnknownWorker the worker id is not (or no longer) registered.
	ErrUnknownWorker = errors.New("unknown worker")
)

// Config pool health thresholds.
type Config struct {
	SuspectThreshold int // Missed probes before HEALTHY -> SUSPECT
	DeadThreshold    int // Missed probes before SUSPECT -> DEAD
	DefaultCapacity  int // Capacity for workers that register without one
}

// Pool the set of known workers with health and load metadata.
type Pool struct {
	mu         sync.Mutex
	cfg        Config
	strategy   Strategy
	workers    map[string]*model.Worker // by worker id
	byEndpoint map[string]string        // endpoint -> worker id
}

// New creates a pool with the given thresholds and selection strategy.
func New(cfg Config, strategy Strategy) *Pool {
	if cfg.SuspectThreshold <= 0 {
		cfg.SuspectThreshold = 2
	}
	if cfg.DeadThreshold <= cfg.SuspectThreshold {
		cfg.DeadThreshold = cfg.SuspectThreshold + 2
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 1
	}
	if strategy == nil {
		strategy = LeastLoaded{}
	}
	return &Pool{
		cfg:        cfg,
		strategy:   strategy,
		workers:    make(map[string]*model.Worker),
		byEndpoint: make(map[string]string),
	}
}

// Register adds a worker with a fresh HEALTHY record and zero load.
// Re-registering an endpoint replaces the stale record: the previous
// process at that endpoint is gone, so its bound sessions are returned
// for the manager to detach.
func (p *Pool) Register(endpoint string, capacity int, version string) (*model.Worker, []string) {
	if capacity <= 0 {
		capacity = p.cfg.DefaultCapacity
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var displaced []string
	if oldID, ok := p.byEndpoint[endpoint]; ok {
		if old := p.workers[oldID]; old != nil {
			displaced = append(displaced, old.BoundSessions...)
		}
		delete(p.workers, oldID)
	}

	now := time.Now()
	w := &model.Worker{
		ID:            uuid.NewString(),
		Endpoint:      endpoint,
		Health:        model.WorkerHealthHealthy,
		Capacity:      capacity,
		LastHeartbeat: now,
		RegisteredAt:  now,
		Version:       version,
	}
	p.workers[w.ID] = w
	p.byEndpoint[endpoint] = w.ID

	logger.Infof("worker registered, worker_id: %s, endpoint: %s, capacity: %d, displaced_sessions: %d",
		w.ID, endpoint, capacity, len(displaced))
	return snapshot(w), displaced
}

// Acquire selects a worker for a new session and binds the session to it
// in the same atomic step, so two sessions can never race past a worker's
// capacity. Returns ErrPoolExhausted when nothing healthy has room.
func (p *Pool) Acquire(sessionID string) (*model.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*model.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Health == model.WorkerHealthHealthy && w.HasCapacity() {
			candidates = append(candidates, w)
		}
	}
	picked := p.strategy.Pick(candidates)
	if picked == nil {
		return nil, ErrPoolExhausted
	}

	picked.Load++
	picked.BoundSessions = append(picked.BoundSessions, sessionID)
	return snapshot(picked), nil
}

// Release unbinds a session from its worker, decrementing load exactly
// once. Unknown workers and already-released sessions are no-ops.
func (p *Pool) Release(workerID, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return
	}
	for i, sid := range w.BoundSessions {
		if sid == sessionID {
			w.BoundSessions = append(w.BoundSessions[:i], w.BoundSessions[i+1:]...)
			w.Load--
			return
		}
	}
}

// MarkHeartbeat resets the missed-probe counter and restores a SUSPECT
// worker to HEALTHY. A worker that was already drained as DEAD must
// re-register; its heartbeat returns ErrUnknownWorker.
func (p *Pool) MarkHeartbeat(workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	w.MissedProbes = 0
	w.LastHeartbeat = time.Now()
	if w.Health == model.WorkerHealthSuspect {
		w.Health = model.WorkerHealthHealthy
		logger.Infof("worker recovered, worker_id: %s, endpoint: %s", w.ID, w.Endpoint)
	}
	return nil
}

// RecordProbeFailure charges one missed probe against the worker. The
// two-stage debounce (HEALTHY -> SUSPECT -> DEAD) keeps a single
// transient timeout from evicting a live worker. On the DEAD edge the
// worker is drained: its bound sessions are returned for the manager to
// detach and the record is removed.
func (p *Pool) RecordProbeFailure(workerID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return nil, ErrUnknownWorker
	}

	w.MissedProbes++
	switch {
	case w.MissedProbes >= p.cfg.DeadThreshold:
		w.Health = model.WorkerHealthDead
		detached := append([]string(nil), w.BoundSessions...)
		delete(p.workers, w.ID)
		if p.byEndpoint[w.Endpoint] == w.ID {
			delete(p.byEndpoint, w.Endpoint)
		}
		logger.Warnf("worker dead after %d missed probes, worker_id: %s, endpoint: %s, detached_sessions: %d",
			w.MissedProbes, w.ID, w.Endpoint, len(detached))
		return detached, nil
	case w.MissedProbes >= p.cfg.SuspectThreshold && w.Health == model.WorkerHealthHealthy:
		w.Health = model.WorkerHealthSuspect
		logger.Warnf("worker suspect after %d missed probes, worker_id: %s, endpoint: %s",
			w.MissedProbes, w.ID, w.Endpoint)
	}
	return nil, nil
}

// SweepStale charges a probe failure to every worker whose last heartbeat
// is older than one probe cycle. It returns the sessions detached by
// workers that crossed the DEAD threshold during this sweep. Called by
// the periodic health job.
func (p *Pool) SweepStale(now time.Time, cycle time.Duration) []string {
	p.mu.Lock()
	stale := make([]string, 0)
	for id, w := range p.workers {
		if now.Sub(w.LastHeartbeat) > cycle {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()

	var detached []string
	for _, id := range stale {
		sessions, err := p.RecordProbeFailure(id)
		if err != nil {
			continue
		}
		detached = append(detached, sessions...)
	}
	return detached
}

// Get returns a copy of the worker record.
func (p *Pool) Get(workerID string) (*model.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[workerID]
	if !ok {
		return nil, false
	}
	return snapshot(w), true
}

// List returns copies of all worker records.
func (p *Pool) List() []*model.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, snapshot(w))
	}
	return out
}

// Restore re-inserts a persisted worker record, used when the manager
// recovers its pool after a restart. Existing records win.
func (p *Pool) Restore(w *model.Worker) {
	if w == nil || w.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[w.ID]; ok {
		return
	}
	if _, ok := p.byEndpoint[w.Endpoint]; ok {
		return
	}
	p.workers[w.ID] = snapshot(w)
	p.byEndpoint[w.Endpoint] = w.ID
}

func snapshot(w *model.Worker) *model.Worker {
	cp := *w
	cp.BoundSessions = append([]string(nil), w.BoundSessions...)
	return &cp
}
