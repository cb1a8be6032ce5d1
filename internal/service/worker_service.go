package service

import (
	"context"
	"time"

	"starbench/internal/model"
	"starbench/pkg/logger"
	"starbench/pkg/notification"
	"starbench/pkg/pool"
	redisstore "starbench/pkg/store/redis"
)

// WorkerService handles worker registration and liveness. It fronts the
// in-memory pool and mirrors worker records into redis so the pool can be
// rebuilt after a manager restart.
type WorkerService struct {
	pool       *pool.Pool
	manager    *SessionManager
	workerRepo *redisstore.WorkerRepository
	notifier   *notification.FeishuNotifier
}

func NewWorkerService(p *pool.Pool, manager *SessionManager) *WorkerService {
	return &WorkerService{pool: p, manager: manager}
}

// SetWorkerRepository enables redis write-through. Optional.
func (s *WorkerService) SetWorkerRepository(repo *redisstore.WorkerRepository) {
	s.workerRepo = repo
}

// SetNotifier enables operator alerts for drained workers. Optional.
func (s *WorkerService) SetNotifier(n *notification.FeishuNotifier) {
	s.notifier = n
}

// Register admits a worker into the pool. Re-registration on the same
// endpoint replaces the old record, and any sessions still bound to it
// are detached with their state marked lost.
func (s *WorkerService) Register(ctx context.Context, req *model.RegisterRequest) (*model.Worker, error) {
	worker, displaced := s.pool.Register(req.Endpoint, req.Capacity, req.Version)
	if len(displaced) > 0 {
		logger.WarnCtx(ctx, "re-registration displaced sessions, endpoint: %s, count: %d", req.Endpoint, len(displaced))
		s.manager.DetachSessions(ctx, displaced)
	}
	s.persist(ctx, worker)
	logger.InfoCtx(ctx, "worker registered, worker_id: %s, endpoint: %s, capacity: %d", worker.ID, worker.Endpoint, worker.Capacity)
	return worker, nil
}

// Heartbeat records a liveness ping. Unknown ids (drained workers, stale
// processes) get ErrUnknownWorker so the worker re-registers.
func (s *WorkerService) Heartbeat(ctx context.Context, workerID string) error {
	if err := s.pool.MarkHeartbeat(workerID); err != nil {
		return err
	}
	if worker, ok := s.pool.Get(workerID); ok {
		s.persist(ctx, worker)
	}
	return nil
}

// ProbeSweep charges a missed probe to every worker that skipped a
// heartbeat cycle and detaches the sessions of any worker that went dead.
// Driven by the periodic health job.
func (s *WorkerService) ProbeSweep(ctx context.Context, cycle time.Duration) {
	before := make(map[string]*model.Worker)
	for _, w := range s.pool.List() {
		before[w.ID] = w
	}

	detached := s.pool.SweepStale(time.Now(), cycle)
	if len(detached) > 0 {
		logger.WarnCtx(ctx, "probe sweep detached sessions, count: %d", len(detached))
		s.manager.DetachSessions(ctx, detached)
	}

	// Sync redis with the post-sweep pool: drained workers lose their
	// record, survivors get the bumped probe counters.
	after := s.pool.List()
	alive := make(map[string]struct{}, len(after))
	for _, w := range after {
		alive[w.ID] = struct{}{}
		s.persist(ctx, w)
	}
	for id, w := range before {
		if _, ok := alive[id]; ok {
			continue
		}
		w.Health = model.WorkerHealthDead
		w.MissedProbes++
		if s.workerRepo != nil {
			if err := s.workerRepo.Delete(ctx, id); err != nil {
				logger.WarnCtx(ctx, "failed to drop drained worker record, worker_id: %s, error: %v", id, err)
			}
		}
		s.alertWorkerLost(ctx, w)
	}
}

// alertWorkerLost sends a best-effort operator alert for a drained worker.
func (s *WorkerService) alertWorkerLost(ctx context.Context, w *model.Worker) {
	if s.notifier == nil {
		return
	}
	event := &notification.WorkerLostNotification{
		WorkerID:         w.ID,
		Endpoint:         w.Endpoint,
		DetachedSessions: len(w.BoundSessions),
		MissedProbes:     w.MissedProbes,
		LostAt:           time.Now(),
	}
	go func() {
		if err := s.notifier.SendWorkerLostNotification(context.Background(), event); err != nil {
			logger.WarnCtx(ctx, "failed to send worker lost alert, worker_id: %s, error: %v", w.ID, err)
		}
	}()
}

// Recover rebuilds the pool from redis after a restart.
func (s *WorkerService) Recover(ctx context.Context) error {
	if s.workerRepo == nil {
		return nil
	}
	workers, err := s.workerRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, w := range workers {
		s.pool.Restore(w)
	}
	logger.Infof("worker pool recovered, workers: %d", len(workers))
	return nil
}

func (s *WorkerService) GetWorker(workerID string) (*model.Worker, bool) {
	return s.pool.Get(workerID)
}

func (s *WorkerService) ListWorkers() []*model.Worker {
	return s.pool.List()
}

func (s *WorkerService) persist(ctx context.Context, worker *model.Worker) {
	if s.workerRepo == nil {
		return
	}
	if err := s.workerRepo.Save(ctx, worker); err != nil {
		logger.WarnCtx(ctx, "failed to persist worker record, worker_id: %s, error: %v", worker.ID, err)
	}
}
