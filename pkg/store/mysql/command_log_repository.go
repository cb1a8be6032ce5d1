package mysql

import (
	"context"
	"fmt"
	"time"

	"starbench/pkg/store/mysql/model"
)

// CommandLogRepository persists the dispatch audit log.
type CommandLogRepository struct {
	ds *Datastore
}

// NewCommandLogRepository creates a command log repository
func NewCommandLogRepository(ds *Datastore) *CommandLogRepository {
	return &CommandLogRepository{ds: ds}
}

// Record appends one command round trip.
func (r *CommandLogRepository) Record(ctx context.Context, entry *model.CommandLog) error {
	if err := r.ds.DB().WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record command log: %w", err)
	}
	return nil
}

// ListBySession returns the most recent entries for one session.
func (r *CommandLogRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.CommandLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*model.CommandLog
	err := r.ds.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list command logs: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes entries older than the cutoff, used by the
// retention job.
func (r *CommandLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.ds.DB().WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.CommandLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old command logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
