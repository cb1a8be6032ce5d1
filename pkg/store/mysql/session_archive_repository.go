package mysql

import (
	"context"
	"fmt"

	"starbench/pkg/store/mysql/model"

	"gorm.io/gorm/clause"
)

// SessionArchiveRepository persists ended-session records.
type SessionArchiveRepository struct {
	ds *Datastore
}

// NewSessionArchiveRepository creates a session archive repository
func NewSessionArchiveRepository(ds *Datastore) *SessionArchiveRepository {
	return &SessionArchiveRepository{ds: ds}
}

// Archive upserts the record for an ended session. EndSession being
// idempotent means the same id can be archived twice; the first write wins.
func (r *SessionArchiveRepository) Archive(ctx context.Context, entry *model.SessionArchive) error {
	err := r.ds.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// ListByOwner returns archived sessions for one owner, newest first.
func (r *SessionArchiveRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]*model.SessionArchive, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*model.SessionArchive
	err := r.ds.DB().WithContext(ctx).
		Where("owner = ?", owner).
		Order("ended_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list session archives: %w", err)
	}
	return entries, nil
}
