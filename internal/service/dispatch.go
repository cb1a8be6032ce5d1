package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"starbench/internal/model"
	"starbench/pkg/constants"
	"starbench/pkg/logger"
	"starbench/pkg/transport"

	"github.com/google/uuid"
)

// dispatchJob one queued command plus the channel its caller waits on.
type dispatchJob struct {
	ctx     context.Context
	command string
	args    json.RawMessage
	reply   chan *dispatchOutcome
}

type dispatchOutcome struct {
	result *model.DispatchResult
	err    error
}

// Dispatch routes one command to the session's bound worker and returns
// its result. Dispatches for a single session are processed strictly in
// arrival order; a full queue is rejected with ErrSessionBusy rather
// than reordered or dropped.
func (m *SessionManager) Dispatch(ctx context.Context, sessionID, command string, args json.RawMessage) (*model.DispatchResult, error) {
	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	tombstoned := false
	if !ok {
		_, tombstoned = m.tombstones[sessionID]
	}
	m.mu.RUnlock()
	if !ok {
		if tombstoned {
			logger.DebugCtx(ctx, "dispatch on expired session, session_id: %s", sessionID)
		}
		return nil, ErrUnknownSession
	}

	if !m.registry.Known(command) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	job := &dispatchJob{
		ctx:     ctx,
		command: command,
		args:    args,
		reply:   make(chan *dispatchOutcome, 1),
	}

	select {
	case entry.jobs <- job:
	case <-entry.done:
		return nil, ErrUnknownSession
	default:
		return nil, ErrSessionBusy
	}

	select {
	case outcome := <-job.reply:
		return outcome.result, outcome.err
	case <-entry.done:
		// The session may have delivered the outcome in the same instant
		// it ended; prefer the outcome.
		select {
		case outcome := <-job.reply:
			return outcome.result, outcome.err
		default:
		}
		return nil, ErrUnknownSession
	case <-ctx.Done():
		// Abandoned from the caller's perspective only: the worker may
		// still process the command, and a later probe decides its health.
		return nil, ErrTimeout
	}
}

// runSession is the per-session actor: it owns the "forward request,
// await reply, update record" sequence, one job at a time.
func (m *SessionManager) runSession(entry *sessionEntry) {
	for {
		select {
		case <-entry.done:
			return
		case job := <-entry.jobs:
			outcome := m.process(entry, job)
			job.reply <- outcome
		}
	}
}

func (m *SessionManager) process(entry *sessionEntry, job *dispatchJob) *dispatchOutcome {
	if err := job.ctx.Err(); err != nil {
		// Caller gave up while the job was queued.
		return &dispatchOutcome{err: ErrTimeout}
	}

	entry.mu.Lock()
	state := entry.record.State
	entry.mu.Unlock()

	if state == model.SessionStateDetached {
		if err := m.reassign(job.ctx, entry); err != nil {
			return &dispatchOutcome{err: err}
		}
	}

	// Sticky until the caller actually sees a reply: a rebind followed by
	// a failed dispatch must still report the loss on the next success.
	entry.mu.Lock()
	stateLost := entry.stateLost
	entry.mu.Unlock()

	channel, workerID, err := m.ensureChannel(job.ctx, entry)
	if errors.Is(err, errWorkerGone) {
		// The bound worker was drained between allocation and first use.
		// Same recovery as an observed detach: one rebind, then terminal.
		if state == model.SessionStateDetached {
			m.terminate(job.ctx, entry, constants.EndReasonNoRebind)
			return &dispatchOutcome{err: ErrSessionUnrecoverable}
		}
		if rerr := m.reassign(job.ctx, entry); rerr != nil {
			return &dispatchOutcome{err: rerr}
		}
		entry.mu.Lock()
		stateLost = entry.stateLost
		entry.mu.Unlock()
		channel, workerID, err = m.ensureChannel(job.ctx, entry)
		if errors.Is(err, errWorkerGone) {
			m.terminate(job.ctx, entry, constants.EndReasonNoRebind)
			return &dispatchOutcome{err: ErrSessionUnrecoverable}
		}
	}
	if err != nil {
		return &dispatchOutcome{err: err}
	}

	req := &model.CommandRequest{
		CorrelationID: uuid.NewString(),
		Command:       job.command,
		Args:          job.args,
	}

	callCtx, cancel := context.WithTimeout(job.ctx, m.cfg.RequestTimeout)
	start := time.Now()
	reply, err := channel.Call(callCtx, req)
	cancel()
	latency := time.Since(start)

	if err != nil {
		return &dispatchOutcome{err: m.handleTransportFailure(job.ctx, entry, workerID, job.command, err, latency)}
	}

	// The worker answered: the round trip doubles as a liveness signal.
	m.pool.MarkHeartbeat(workerID)
	m.touch(job.ctx, entry)

	result := &model.DispatchResult{
		SessionID: entry.record.ID,
		Command:   job.command,
		WorkerID:  workerID,
		StateLost: stateLost,
		LatencyMS: latency.Milliseconds(),
	}

	switch reply.Status {
	case model.ReplyStatusOK:
		result.Result = reply.Result
		m.audit(job.ctx, entry, workerID, job.command, string(reply.Status), "", stateLost, latency)
		return &dispatchOutcome{result: result}
	case model.ReplyStatusDomainError:
		// Passed through verbatim; the manager never reinterprets
		// worker-level failures.
		derr := &DomainError{Payload: reply.Error}
		m.audit(job.ctx, entry, workerID, job.command, string(reply.Status), derr.Error(), stateLost, latency)
		return &dispatchOutcome{err: derr}
	default:
		msg := "worker internal error"
		if reply.Error != nil {
			msg = fmt.Sprintf("worker internal error: %s", reply.Error.Message)
		}
		m.audit(job.ctx, entry, workerID, job.command, string(reply.Status), msg, stateLost, latency)
		return &dispatchOutcome{err: errors.New(msg)}
	}
}

// reassign binds a DETACHED session to a freshly allocated worker. The
// lost worker's in-memory model state is gone with the process; recovery
// restores connectivity only, so the caller is told state_lost=true and
// must replay its setup. A failed reassignment is terminal.
func (m *SessionManager) reassign(ctx context.Context, entry *sessionEntry) error {
	entry.mu.Lock()
	sessionID := entry.record.ID
	entry.mu.Unlock()

	worker, err := m.pool.Acquire(sessionID)
	if err != nil {
		logger.WarnCtx(ctx, "reassignment failed, session_id: %s, err: %v", sessionID, err)
		m.terminate(ctx, entry, constants.EndReasonNoRebind)
		return ErrSessionUnrecoverable
	}

	entry.mu.Lock()
	entry.record.WorkerID = worker.ID
	entry.record.State = model.SessionStateActive
	entry.stateLost = true
	record := snapshotSession(entry.record)
	entry.mu.Unlock()

	m.persist(ctx, record)
	logger.InfoCtx(ctx, "session reassigned, session_id: %s, worker_id: %s, state_lost: true", sessionID, worker.ID)
	return nil
}

// ensureChannel returns the session's open channel to its worker,
// dialing it on first use or after a drop. A dial failure counts as a
// probe failure against the worker and surfaces as a timeout.
func (m *SessionManager) ensureChannel(ctx context.Context, entry *sessionEntry) (transport.Channel, string, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	workerID := entry.record.WorkerID
	if workerID == "" {
		return nil, "", ErrUnknownSession
	}
	if entry.channel != nil && !entry.channel.Closed() {
		return entry.channel, workerID, nil
	}

	worker, ok := m.pool.Get(workerID)
	if !ok {
		return nil, "", errWorkerGone
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	channel, err := m.dialer.Dial(dialCtx, worker.Endpoint)
	cancel()
	if err != nil {
		logger.WarnCtx(ctx, "failed to dial worker, worker_id: %s, endpoint: %s, err: %v", workerID, worker.Endpoint, err)
		if ctx.Err() == nil {
			m.probeFailure(ctx, workerID)
		}
		return nil, "", ErrTimeout
	}
	entry.channel = channel
	return channel, workerID, nil
}

// handleTransportFailure maps a failed round trip to the caller-visible
// error and feeds the pool's health debounce. The request is never
// reissued to the same worker: the worker may have processed it, and a
// retry would risk double-mutating the held model.
func (m *SessionManager) handleTransportFailure(ctx context.Context, entry *sessionEntry, workerID, command string, err error, latency time.Duration) error {
	if ctx.Err() != nil {
		// The caller abandoned the call. That says nothing about the
		// worker, so its health is left to the probe cycle.
		logger.InfoCtx(ctx, "dispatch abandoned by caller, session_id: %s, worker_id: %s, command: %s",
			entry.record.ID, workerID, command)
		m.audit(ctx, entry, workerID, command, "abandoned", err.Error(), false, latency)
		return ErrTimeout
	}

	logger.WarnCtx(ctx, "dispatch transport failure, session_id: %s, worker_id: %s, command: %s, err: %v",
		entry.record.ID, workerID, command, err)

	m.probeFailure(ctx, workerID)
	m.audit(ctx, entry, workerID, command, "timeout", err.Error(), false, latency)

	if errors.Is(err, transport.ErrChannelClosed) {
		entry.mu.Lock()
		if entry.channel != nil {
			entry.channel.Close()
			entry.channel = nil
		}
		entry.mu.Unlock()
	}
	return ErrTimeout
}

// probeFailure charges a missed probe and detaches any sessions emitted
// by a worker that crossed the DEAD threshold.
func (m *SessionManager) probeFailure(ctx context.Context, workerID string) {
	detached, err := m.pool.RecordProbeFailure(workerID)
	if err != nil {
		return
	}
	if len(detached) > 0 {
		m.DetachSessions(ctx, detached)
	}
}

// touch records dispatch activity: bumps last-activity and wakes an IDLE
// session back to ACTIVE.
func (m *SessionManager) touch(ctx context.Context, entry *sessionEntry) {
	entry.mu.Lock()
	entry.record.LastActivityAt = time.Now()
	if entry.record.State == model.SessionStatePending || entry.record.State == model.SessionStateIdle {
		entry.record.State = model.SessionStateActive
	}
	entry.stateLost = false
	entry.dispatches++
	record := snapshotSession(entry.record)
	entry.mu.Unlock()
	m.persist(ctx, record)
}

func (m *SessionManager) audit(ctx context.Context, entry *sessionEntry, workerID, command, status, errMsg string, stateLost bool, latency time.Duration) {
	if m.auditor == nil {
		return
	}
	m.auditor.RecordDispatch(ctx, entry.record.ID, workerID, command, status, errMsg, stateLost, latency)
}
