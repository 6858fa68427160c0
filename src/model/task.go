package model

import "time"

// Task lifecycle statuses. A task stuck in processing past the
// staleness window is reset to pending for retry (at-least-once).
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusSkipped    = "skipped"
	TaskStatusFailed     = "failed"
)

// Task is one queued (agent, signal) evaluation unit. Rule-based agents
// get a task instead of a synchronous execution so that the unbounded
// latency of rule evaluation never blocks signal ingestion.
type Task struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	AgentID uint `gorm:"index" json:"agent_id"`

	// The signal payload as received, serialized JSON.
	SignalPayload string `gorm:"type:text;not null" json:"signal_payload"`

	Status  string `gorm:"size:20;not null;default:pending;index" json:"status"`
	Verdict string `gorm:"type:text" json:"verdict,omitempty"`
	Error   string `gorm:"type:text" json:"error,omitempty"`
	TradeID *uint  `gorm:"index" json:"trade_id,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}
