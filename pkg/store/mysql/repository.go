package mysql

import (
	"starbench/pkg/store/mysql/model"
)

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	CommandLog     *CommandLogRepository
	SessionArchive *SessionArchiveRepository
}

// NewRepository creates a new MySQL repository with all sub-repositories
func NewRepository(dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}

	if err := ds.DB().AutoMigrate(&model.CommandLog{}, &model.SessionArchive{}); err != nil {
		return nil, err
	}

	return &Repository{
		ds:             ds,
		CommandLog:     NewCommandLogRepository(ds),
		SessionArchive: NewSessionArchiveRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
