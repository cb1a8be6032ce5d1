package service

import (
	"context"
	"time"

	"starbench/internal/model"
	"starbench/pkg/logger"
	"starbench/pkg/store/mysql"
	mysqlmodel "starbench/pkg/store/mysql/model"
)

// MySQLAuditor writes the dispatch audit log and session archive to
// MySQL. Writes are best-effort: audit failures are logged and never
// bubble into the dispatch path.
type MySQLAuditor struct {
	repo *mysql.Repository
}

var _ CommandAuditor = (*MySQLAuditor)(nil)

func NewMySQLAuditor(repo *mysql.Repository) *MySQLAuditor {
	return &MySQLAuditor{repo: repo}
}

func (a *MySQLAuditor) RecordDispatch(ctx context.Context, sessionID, workerID, command, status, errMsg string, stateLost bool, latency time.Duration) {
	entry := &mysqlmodel.CommandLog{
		SessionID: sessionID,
		WorkerID:  workerID,
		Command:   command,
		Status:    status,
		Error:     errMsg,
		StateLost: stateLost,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if err := a.repo.CommandLog.Record(ctx, entry); err != nil {
		logger.WarnCtx(ctx, "failed to record command log, session_id: %s, command: %s, error: %v", sessionID, command, err)
	}
}

func (a *MySQLAuditor) RecordSessionEnd(ctx context.Context, session *model.Session, endReason string, dispatches int64) {
	now := time.Now()
	entry := &mysqlmodel.SessionArchive{
		SessionID:    session.ID,
		Owner:        session.Owner,
		LastWorkerID: session.WorkerID,
		EndReason:    endReason,
		Dispatches:   dispatches,
		StartedAt:    session.CreatedAt,
		EndedAt:      &now,
	}
	if err := a.repo.SessionArchive.Archive(ctx, entry); err != nil {
		logger.WarnCtx(ctx, "failed to archive session, session_id: %s, error: %v", session.ID, err)
	}
}
