package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	WorkflowStatusDraft  = "draft"
	WorkflowStatusActive = "active"
	WorkflowStatusPaused = "paused"
)

const (
	ExecutionStatusSucceeded = "succeeded"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusRunning   = "running"
)

// Workflow stores an automation definition. Trigger and actions are kept as
// JSON exactly as authored; integration validation parses them on demand.
type Workflow struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UUID           string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID         uint           `gorm:"not null;index" json:"user_id"`
	Name           string         `gorm:"type:varchar(200);not null" json:"name"`
	Status         string         `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	TriggerJSON    string         `gorm:"type:text" json:"trigger_json"`
	ActionsJSON    string         `gorm:"type:text" json:"actions_json"`
	ExecutionCount int64          `gorm:"default:0" json:"execution_count"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsActive reports whether the workflow counts against the active-workflow limit.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// WorkflowExecution records one run for usage accounting and log retention.
type WorkflowExecution struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UUID       string     `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	WorkflowID uint       `gorm:"not null;index" json:"workflow_id"`
	UserID     uint       `gorm:"not null;index:idx_executions_user_started,priority:1" json:"user_id"`
	Status     string     `gorm:"type:varchar(20);not null;default:'running'" json:"status"`
	StartedAt  time.Time  `gorm:"autoCreateTime;index:idx_executions_user_started,priority:2" json:"started_at"`
	FinishedAt *time.Time `gorm:"type:timestamp;default:null" json:"finished_at,omitempty"`
}
