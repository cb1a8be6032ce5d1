package model

import (
	"time"
)

// CommandLog MySQL model for the dispatch audit log. One row per command
// round trip; the result payload itself is not stored, only routing
// metadata and outcome, so the table stays small.
type CommandLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"column:session_id;type:varchar(64);not null;index:idx_session_id" json:"session_id"`
	WorkerID  string    `gorm:"column:worker_id;type:varchar(64);not null" json:"worker_id"`
	Command   string    `gorm:"column:command;type:varchar(128);not null;index:idx_command" json:"command"`
	Status    string    `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Error     string    `gorm:"column:error;type:text" json:"error"`
	StateLost bool      `gorm:"column:state_lost;not null;default:0" json:"state_lost"`
	LatencyMS int64     `gorm:"column:latency_ms;not null" json:"latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_created_at" json:"created_at"`
}

// TableName specifies the table name for CommandLog
func (CommandLog) TableName() string {
	return "command_logs"
}
