package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ClaimStatus string

const (
	ClaimPending    ClaimStatus = "pending"
	ClaimDenied     ClaimStatus = "denied"
	ClaimInProgress ClaimStatus = "in_progress"
	ClaimResolved   ClaimStatus = "resolved"
)

// Valid reports whether s is one of the known claim statuses.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimDenied, ClaimInProgress, ClaimResolved:
		return true
	}
	return false
}

type DenialCategory string

const (
	CategoryMissingAuthorization   DenialCategory = "Missing Authorization"
	CategoryMissingInformation     DenialCategory = "Missing Information"
	CategoryMedicalNecessity       DenialCategory = "Medical Necessity"
	CategoryEligibility            DenialCategory = "Eligibility"
	CategoryTimelyFiling           DenialCategory = "Timely Filing"
	CategoryDuplicateClaim         DenialCategory = "Duplicate Claim"
	CategoryNonCoveredService      DenialCategory = "Non-Covered Service"
	CategoryCoordinationOfBenefits DenialCategory = "Coordination of Benefits"
	CategoryContractualAdjustment  DenialCategory = "Contractual Adjustment"
	CategoryPatientResponsibility  DenialCategory = "Patient Responsibility"
	CategoryOther                  DenialCategory = "Other"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priority thresholds. Aging is in whole days.
var (
	HighPriorityAmount   = decimal.NewFromInt(5000)
	MediumPriorityAmount = decimal.NewFromInt(1000)
)

const (
	HighPriorityAgingDays   = 60
	MediumPriorityAgingDays = 30
)

// Claim is one billed service awaiting or receiving payment. A claim belongs to
// exactly one tenant; (TenantID, ClaimID) is its identity.
// DenialReasonCategory is set only while the claim is Denied.
// LastDenialCategory survives resolution and feeds the denial rollups.
type Claim struct {
	TenantID             string          `gorm:"primaryKey;size:64" json:"tenant_id"`
	ClaimID              string          `gorm:"primaryKey;size:64" json:"claim_id"`
	PatientRef           string          `gorm:"index" json:"patient_ref"`
	ProviderRef          string          `gorm:"index" json:"provider_ref"`
	ServiceDescription   string          `json:"service_description"`
	BilledAmount         decimal.Decimal `gorm:"type:numeric(14,2)" json:"billed_amount"`
	PaidAmount           decimal.Decimal `gorm:"type:numeric(14,2)" json:"paid_amount"`
	Status               ClaimStatus     `gorm:"index;size:16" json:"status"`
	DenialReasonCategory DenialCategory  `gorm:"index;size:64" json:"denial_reason_category,omitempty"`
	LastDenialCategory   DenialCategory  `gorm:"size:64" json:"last_denial_category,omitempty"`
	AssignedAgent        string          `gorm:"index;size:128" json:"assigned_agent,omitempty"`
	TouchCount           int             `json:"touch_count"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	LastActivityAt       time.Time       `json:"last_activity_at"`
	FirstDeniedAt        *time.Time      `json:"first_denied_at,omitempty"`
	ResolvedAt           *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// AgingDays is the number of whole days between submission and now, never negative.
func (c Claim) AgingDays(now time.Time) int {
	d := now.Sub(c.SubmittedAt)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func (c Claim) Priority(now time.Time) Priority {
	aging := c.AgingDays(now)
	switch {
	case aging > HighPriorityAgingDays || c.BilledAmount.GreaterThanOrEqual(HighPriorityAmount):
		return PriorityHigh
	case aging > MediumPriorityAgingDays || c.BilledAmount.GreaterThanOrEqual(MediumPriorityAmount):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ClaimView is the read projection handed to report/export collaborators.
type ClaimView struct {
	Claim
	AgingDays int      `json:"aging_days"`
	Priority  Priority `json:"priority"`
}

func (c Claim) View(now time.Time) ClaimView {
	return ClaimView{Claim: c, AgingDays: c.AgingDays(now), Priority: c.Priority(now)}
}

// Clone returns a copy that shares no pointers with c.
func (c Claim) Clone() Claim {
	out := c
	if c.FirstDeniedAt != nil {
		t := *c.FirstDeniedAt
		out.FirstDeniedAt = &t
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
