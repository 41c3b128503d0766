package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/claims"
)

// ClaimRepository is the Postgres side of the claim store.
type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) CreateClaim(ctx context.Context, c *models.Claim) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// SaveTransition writes the new claim row and its audit event atomically. A
// second event with the same (tenant, claim, batch, seq) is ignored.
func (r *ClaimRepository) SaveTransition(ctx context.Context, c *models.Claim, ev *models.ClaimEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(c).Error; err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ev).Error
	})
}

func (r *ClaimRepository) LoadClaims(ctx context.Context, tenantID string) ([]models.Claim, error) {
	var rows []models.Claim
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("claim_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *ClaimRepository) LoadClaimEvents(ctx context.Context, tenantID string) ([]models.ClaimEvent, error) {
	var events []models.ClaimEvent
	err := replayEvents(r.db.WithContext(ctx), tenantID).Find(&events).Error
	return events, err
}

// replayEvents selects the audit rows that mark remittance lines as applied.
func replayEvents(db *gorm.DB, tenantID string) *gorm.DB {
	return db.Where("tenant_id = ? AND batch_id <> ?", tenantID, claims.ManualBatchID).
		Order("created_at ASC")
}

// TenantIDs lists every tenant with at least one claim, for warm-up at startup.
func (r *ClaimRepository) TenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Claim{}).
		Distinct("tenant_id").
		Order("tenant_id ASC").
		Pluck("tenant_id", &ids).Error
	return ids, err
}
