package service

import (
	"context"
	"sync"
	"time"

	"starbench/internal/model"
	"starbench/pkg/constants"
	"starbench/pkg/logger"
	"starbench/pkg/pool"
	"starbench/pkg/registry"
	redisstore "starbench/pkg/store/redis"
	"starbench/pkg/transport"

	"github.com/google/uuid"
)

// ManagerConfig session lifecycle and dispatch tuning.
type ManagerConfig struct {
	IdleTimeout    time.Duration // ACTIVE -> IDLE after this inactivity
	ExpireTimeout  time.Duration // IDLE -> EXPIRED after this further inactivity
	ReuseGrace     time.Duration // Expired-id tombstone window
	MaxQueueDepth  int           // Queued dispatches per session before SessionBusy
	RequestTimeout time.Duration // Per-command deadline
}

func (c *ManagerConfig) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ExpireTimeout <= 0 {
		c.ExpireTimeout = 30 * time.Minute
	}
	if c.ReuseGrace <= 0 {
		c.ReuseGrace = 10 * time.Minute
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 8
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = time.Minute
	}
}

// SessionManager owns the session table and orchestrates allocation,
// routing, reassignment and expiry. It is the only writer of session
// state; the gateway is stateless on top of it.
type SessionManager struct {
	cfg      ManagerConfig
	pool     *pool.Pool
	dialer   transport.Dialer
	registry *registry.Registry

	mu         sync.RWMutex
	sessions   map[string]*sessionEntry
	tombstones map[string]time.Time // expired ids -> removal time, kept for the grace window

	// Optional persistence; nil disables it.
	sessionRepo *redisstore.SessionRepository
	auditor     CommandAuditor
}

// CommandAuditor receives one record per dispatch and per ended session.
// Implemented by the MySQL store; nil disables auditing.
type CommandAuditor interface {
	RecordDispatch(ctx context.Context, sessionID, workerID, command, status, errMsg string, stateLost bool, latency time.Duration)
	RecordSessionEnd(ctx context.Context, session *model.Session, endReason string, dispatches int64)
}

// sessionEntry one live session plus its serialization machinery. The
// jobs channel feeds a single resident goroutine, so dispatches for one
// session are processed strictly in arrival order.
type sessionEntry struct {
	mu         sync.Mutex // guards record and channel
	record     *model.Session
	channel    transport.Channel
	jobs       chan *dispatchJob
	done       chan struct{} // closed exactly once when the session ends
	doneOnce   sync.Once
	stateLost  bool // pending rebind notice, cleared on the next delivered reply
	dispatches int64
}

// NewSessionManager creates a manager over the given pool and transport.
func NewSessionManager(cfg ManagerConfig, p *pool.Pool, dialer transport.Dialer, reg *registry.Registry) *SessionManager {
	cfg.applyDefaults()
	if reg == nil {
		reg = registry.Default()
	}
	return &SessionManager{
		cfg:        cfg,
		pool:       p,
		dialer:     dialer,
		registry:   reg,
		sessions:   make(map[string]*sessionEntry),
		tombstones: make(map[string]time.Time),
	}
}

// SetSessionRepository enables write-through session persistence.
func (m *SessionManager) SetSessionRepository(repo *redisstore.SessionRepository) {
	m.sessionRepo = repo
}

// SetAuditor enables dispatch/session auditing.
func (m *SessionManager) SetAuditor(a CommandAuditor) {
	m.auditor = a
}

// Registry returns the command registry the manager validates against.
func (m *SessionManager) Registry() *registry.Registry {
	return m.registry
}

// CreateSession allocates a worker and opens a session bound to it.
// Allocation and binding are one atomic pool step, so concurrent creates
// can never overfill a worker. Returns ErrNoCapacity when the pool is
// exhausted; the condition is retryable and must be surfaced, never
// swallowed.
func (m *SessionManager) CreateSession(ctx context.Context, owner string) (*model.Session, error) {
	sessionID := uuid.NewString()

	worker, err := m.pool.Acquire(sessionID)
	if err != nil {
		logger.WarnCtx(ctx, "session creation rejected, owner: %s, reason: %v", owner, err)
		return nil, ErrNoCapacity
	}

	now := time.Now()
	record := &model.Session{
		ID:             sessionID,
		Owner:          owner,
		WorkerID:       worker.ID,
		State:          model.SessionStatePending,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	entry := m.newEntry(record)

	m.mu.Lock()
	m.sessions[sessionID] = entry
	m.mu.Unlock()

	go m.runSession(entry)
	m.persist(ctx, record)

	logger.InfoCtx(ctx, "session created, session_id: %s, owner: %s, worker_id: %s, endpoint: %s",
		sessionID, owner, worker.ID, worker.Endpoint)
	return snapshotSession(record), nil
}

// EndSession closes a session and releases its worker slot. Idempotent:
// ending an unknown or already-expired session is a no-op success.
func (m *SessionManager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		logger.DebugCtx(ctx, "end_session on unknown or expired session, session_id: %s", sessionID)
		return nil
	}
	m.terminate(ctx, entry, constants.EndReasonClient)
	return nil
}

// GetSession returns a copy of the session record.
func (m *SessionManager) GetSession(sessionID string) (*model.Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshotSession(entry.record), nil
}

// ListSessions returns copies of all live session records.
func (m *SessionManager) ListSessions() []*model.Session {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*model.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshotSession(e.record))
		e.mu.Unlock()
	}
	return out
}

// DetachSessions marks the given sessions as DETACHED after their worker
// was lost. The sessions stay recoverable until they expire; the next
// dispatch on each triggers a reassignment attempt.
func (m *SessionManager) DetachSessions(ctx context.Context, sessionIDs []string) {
	for _, id := range sessionIDs {
		m.mu.RLock()
		entry, ok := m.sessions[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		entry.mu.Lock()
		if entry.record.State == model.SessionStateExpired {
			entry.mu.Unlock()
			continue
		}
		entry.record.State = model.SessionStateDetached
		entry.record.WorkerID = ""
		if entry.channel != nil {
			entry.channel.Close()
			entry.channel = nil
		}
		record := snapshotSession(entry.record)
		entry.mu.Unlock()

		m.persist(ctx, record)
		logger.WarnCtx(ctx, "session detached after worker loss, session_id: %s, owner: %s", id, record.Owner)
	}
}

// Recover rebuilds the session table from the persisted records after a
// manager restart. Sessions whose worker is no longer in the pool come
// back DETACHED; the rest resume where they were.
func (m *SessionManager) Recover(ctx context.Context) error {
	if m.sessionRepo == nil {
		return nil
	}
	records, err := m.sessionRepo.GetAll(ctx)
	if err != nil {
		return err
	}

	recovered, detached := 0, 0
	for _, record := range records {
		if record.State == model.SessionStateExpired {
			continue
		}
		if record.WorkerID != "" {
			if _, ok := m.pool.Get(record.WorkerID); !ok {
				record.WorkerID = ""
				record.State = model.SessionStateDetached
				detached++
			}
		} else if record.State != model.SessionStateDetached {
			record.State = model.SessionStateDetached
			detached++
		}

		entry := m.newEntry(record)
		m.mu.Lock()
		m.sessions[record.ID] = entry
		m.mu.Unlock()
		go m.runSession(entry)
		recovered++
	}

	logger.InfoCtx(ctx, "session table recovered, sessions: %d, detached: %d", recovered, detached)
	return nil
}

// Sweep advances session lifecycle states: ACTIVE -> IDLE after the idle
// threshold and IDLE -> EXPIRED after the expire threshold, releasing
// each expired session's worker slot exactly once. Also prunes expired-id
// tombstones past the grace window. Called by the periodic lifecycle job.
func (m *SessionManager) Sweep(ctx context.Context, now time.Time) {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var expired []*sessionEntry
	for _, e := range entries {
		e.mu.Lock()
		idleFor := now.Sub(e.record.LastActivityAt)
		switch e.record.State {
		case model.SessionStatePending, model.SessionStateActive:
			if idleFor > m.cfg.IdleTimeout {
				e.record.State = model.SessionStateIdle
				m.persist(ctx, e.record)
			}
		case model.SessionStateIdle, model.SessionStateDetached:
			if idleFor > m.cfg.IdleTimeout+m.cfg.ExpireTimeout {
				expired = append(expired, e)
			}
		}
		e.mu.Unlock()
	}

	for _, e := range expired {
		m.terminate(ctx, e, constants.EndReasonExpired)
	}

	m.mu.Lock()
	for id, at := range m.tombstones {
		if now.Sub(at) > m.cfg.ReuseGrace {
			delete(m.tombstones, id)
		}
	}
	m.mu.Unlock()
}

// terminate ends a session: stops its actor, releases the worker slot,
// removes the record and leaves a tombstone for the grace window.
func (m *SessionManager) terminate(ctx context.Context, entry *sessionEntry, reason string) {
	entry.mu.Lock()
	record := entry.record
	if record.State == model.SessionStateExpired {
		entry.mu.Unlock()
		return
	}
	record.State = model.SessionStateExpired
	workerID := record.WorkerID
	record.WorkerID = ""
	if entry.channel != nil {
		entry.channel.Close()
		entry.channel = nil
	}
	dispatches := entry.dispatches
	final := snapshotSession(record)
	entry.mu.Unlock()

	entry.doneOnce.Do(func() { close(entry.done) })

	if workerID != "" {
		m.pool.Release(workerID, record.ID)
	}

	m.mu.Lock()
	delete(m.sessions, record.ID)
	m.tombstones[record.ID] = time.Now()
	m.mu.Unlock()

	if m.sessionRepo != nil {
		if err := m.sessionRepo.Delete(ctx, record.ID, m.cfg.ReuseGrace); err != nil {
			logger.WarnCtx(ctx, "failed to delete persisted session, session_id: %s, err: %v", record.ID, err)
		}
	}
	if m.auditor != nil {
		final.WorkerID = workerID
		m.auditor.RecordSessionEnd(ctx, final, reason, dispatches)
	}

	logger.InfoCtx(ctx, "session ended, session_id: %s, owner: %s, reason: %s, dispatches: %d",
		record.ID, record.Owner, reason, dispatches)
}

func (m *SessionManager) newEntry(record *model.Session) *sessionEntry {
	return &sessionEntry{
		record: record,
		jobs:   make(chan *dispatchJob, m.cfg.MaxQueueDepth),
		done:   make(chan struct{}),
	}
}

func (m *SessionManager) persist(ctx context.Context, record *model.Session) {
	if m.sessionRepo == nil {
		return
	}
	if err := m.sessionRepo.Save(ctx, record); err != nil {
		logger.WarnCtx(ctx, "failed to persist session, session_id: %s, err: %v", record.ID, err)
	}
}

func snapshotSession(s *model.Session) *model.Session {
	cp := *s
	return &cp
}
