package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// ReconciliationRun is one pass of a remittance batch over a tenant's claims.
// Counts satisfy MatchedCount+UnmatchedCount+FailedCount == ProcessedCount.
// NoOpCount is the subset of MatchedCount that changed nothing.
type ReconciliationRun struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"run_id"`
	TenantID         string         `gorm:"index;size:64" json:"tenant_id"`
	BatchID          string         `gorm:"index;size:128" json:"batch_id"`
	State            RunState       `gorm:"index;size:16" json:"state"`
	TotalCount       int            `json:"total_count"`
	ProcessedCount   int            `json:"processed_count"`
	MatchedCount     int            `json:"matched_count"`
	UnmatchedCount   int            `json:"unmatched_count"`
	FailedCount      int            `json:"failed_count"`
	NoOpCount        int            `json:"noop_count"`
	SkippedCount     int            `json:"skipped_count"`
	ProgressFraction float64        `json:"progress_fraction"`
	FailureReason    string         `gorm:"type:text" json:"failure_reason,omitempty"`
	Unmatched        datatypes.JSON `json:"unmatched,omitempty"`
	ParseErrors      datatypes.JSON `json:"parse_errors,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	LastProgressAt   time.Time      `json:"last_progress_at"`
	Stalled          bool           `gorm:"-" json:"stalled"`
}

func (r ReconciliationRun) Active() bool {
	return r.State == RunRunning
}
