package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rcm-reconciliation-backend/internal/models"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun upserts the run; progress snapshots overwrite earlier ones.
func (r *RunRepository) SaveRun(ctx context.Context, run *models.ReconciliationRun) error {
	return r.db.WithContext(ctx).Clauses(upsertByID()).Create(run).Error
}

func upsertByID() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}
}

// GetRun returns nil, nil when the run does not exist.
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, tenantID string) ([]models.ReconciliationRun, error) {
	var runs []models.ReconciliationRun
	err := runsForTenant(r.db.WithContext(ctx), tenantID).Find(&runs).Error
	return runs, err
}

func runsForTenant(db *gorm.DB, tenantID string) *gorm.DB {
	return db.Where("tenant_id = ?", tenantID).Order("started_at DESC")
}
