package model

import (
	"time"
)

// SessionArchive MySQL model for ended sessions. Live sessions are held
// in memory and mirrored to Redis; this table only records how a session
// ended, for audit and capacity planning.
type SessionArchive struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string     `gorm:"column:session_id;type:varchar(64);not null;uniqueIndex:idx_session_id_unique" json:"session_id"`
	Owner        string     `gorm:"column:owner;type:varchar(255);not null;index:idx_owner" json:"owner"`
	LastWorkerID string     `gorm:"column:last_worker_id;type:varchar(64)" json:"last_worker_id"`
	EndReason    string     `gorm:"column:end_reason;type:varchar(64);not null" json:"end_reason"`
	Dispatches   int64      `gorm:"column:dispatches;not null;default:0" json:"dispatches"`
	StartedAt    time.Time  `gorm:"column:started_at;type:datetime(3);not null" json:"started_at"`
	EndedAt      *time.Time `gorm:"column:ended_at;type:datetime(3);index:idx_ended_at" json:"ended_at"`
}

// TableName specifies the table name for SessionArchive
func (SessionArchive) TableName() string {
	return "session_archives"
}
