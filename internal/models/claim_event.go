package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ClaimEvent is the audit row written for every claim mutation. Manual actions
// use BatchID "manual" and the claim's new touch count as TransactionSeq, which
// keeps the source index unique per claim.
type ClaimEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TenantID       string         `gorm:"size:64;uniqueIndex:idx_claim_event_source"`
	ClaimID        string         `gorm:"size:64;uniqueIndex:idx_claim_event_source"`
	BatchID        string         `gorm:"size:128;uniqueIndex:idx_claim_event_source"`
	TransactionSeq int            `gorm:"uniqueIndex:idx_claim_event_source"`
	Action         string         `gorm:"size:32"`
	OldStatus      ClaimStatus    `gorm:"size:16"`
	NewStatus      ClaimStatus    `gorm:"size:16"`
	OldCategory    DenialCategory `gorm:"size:64"`
	NewCategory    DenialCategory `gorm:"size:64"`
	PerformedBy    string
	Details        datatypes.JSON
	CreatedAt      time.Time
}
