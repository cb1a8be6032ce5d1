package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"starbench/internal/jobs"
	"starbench/internal/service"
	"starbench/pkg/lock"
	"starbench/pkg/logger"
	mysqlstore "starbench/pkg/store/mysql"
)

// auditRetention how long command-log rows are kept.
const auditRetention = 30 * 24 * time.Hour

func (app *Application) initJobs() error {
	if app.workerService == nil || app.sessionManager == nil {
		logger.WarnCtx(app.ctx, "service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	probeInterval := app.config.Pool.HeartbeatCycle()
	if probeInterval <= 0 {
		probeInterval = 10 * time.Second
	}
	sweepInterval := app.config.Session.SweepDuration()
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	// Pool health and session lifecycle act on per-instance in-memory
	// state, so they run unlocked on every replica.
	manager.Register(newProbeSweepJob(probeInterval, app.workerService))
	manager.Register(newSessionSweepJob(sweepInterval, app.sessionManager))

	// Audit retention hits shared MySQL; take a distributed lock so only
	// one replica prunes. Without Redis the lock degrades to local-only.
	if app.mysqlRepo != nil {
		var redisClient *redis.Client
		if app.redisClient != nil {
			redisClient = app.redisClient.GetClient()
		}
		retentionLock := lock.NewRedisLock(redisClient, "cleanup:audit-retention-lock")
		manager.Register(newAuditRetentionJob(24*time.Hour, app.mysqlRepo, retentionLock))
	}

	app.jobsManager = manager
	return nil
}

// probeSweepJob periodically charges missed probes to silent workers.
type probeSweepJob struct {
	interval      time.Duration
	workerService *service.WorkerService
}

func newProbeSweepJob(interval time.Duration, svc *service.WorkerService) jobs.Job {
	return &probeSweepJob{interval: interval, workerService: svc}
}

func (j *probeSweepJob) Name() string {
	return "pool-probe-sweep"
}

func (j *probeSweepJob) Interval() time.Duration {
	return j.interval
}

func (j *probeSweepJob) Run(ctx context.Context) error {
	if j.workerService == nil {
		return fmt.Errorf("worker service not configured")
	}
	j.workerService.ProbeSweep(ctx, j.interval)
	return nil
}

// sessionSweepJob advances idle/expire lifecycle transitions.
type sessionSweepJob struct {
	interval       time.Duration
	sessionManager *service.SessionManager
}

func newSessionSweepJob(interval time.Duration, manager *service.SessionManager) jobs.Job {
	return &sessionSweepJob{interval: interval, sessionManager: manager}
}

func (j *sessionSweepJob) Name() string {
	return "session-lifecycle-sweep"
}

func (j *sessionSweepJob) Interval() time.Duration {
	return j.interval
}

func (j *sessionSweepJob) Run(ctx context.Context) error {
	if j.sessionManager == nil {
		return fmt.Errorf("session manager not configured")
	}
	j.sessionManager.Sweep(ctx, time.Now())
	return nil
}

// auditRetentionJob prunes old command-log rows once a day, aligned to
// midnight so the pass lands in the quiet hours.
type auditRetentionJob struct {
	interval        time.Duration
	mysqlRepo       *mysqlstore.Repository
	distributedLock lock.DistributedLock
}

func newAuditRetentionJob(interval time.Duration, repo *mysqlstore.Repository, l lock.DistributedLock) jobs.Job {
	return &auditRetentionJob{interval: interval, mysqlRepo: repo, distributedLock: l}
}

func (j *auditRetentionJob) Name() string {
	return "audit-retention-cleanup"
}

func (j *auditRetentionJob) Interval() time.Duration {
	return j.interval
}

func (j *auditRetentionJob) AlignToInterval() bool {
	return true
}

func (j *auditRetentionJob) Run(ctx context.Context) error {
	if j.mysqlRepo == nil {
		return fmt.Errorf("mysql repository not configured")
	}

	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running audit retention cleanup, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	cutoff := time.Now().Add(-auditRetention)
	deleted, err := j.mysqlRepo.CommandLog.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.InfoCtx(ctx, "pruned old command logs, rows: %d, cutoff: %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}
