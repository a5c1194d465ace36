package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecopier/src/database"
	"tradecopier/src/model"
)

// PlacementRepository handles read/write operations for compute placements.
// Account counters are mutated only through guarded single-statement updates
// so concurrent acquire/release cannot oversell capacity or go negative.
type PlacementRepository struct {
	db *gorm.DB
}

func NewPlacementRepository() *PlacementRepository {
	return &PlacementRepository{db: database.MainDB}
}

func (r *PlacementRepository) WithDB(db *gorm.DB) *PlacementRepository {
	return &PlacementRepository{db: db}
}

// Create inserts a new placement record.
func (r *PlacementRepository) Create(ctx context.Context, placement *model.Placement) error {
	if err := r.db.WithContext(ctx).Create(placement).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PlacementRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create placement")
		return err
	}
	return nil
}

// FindByID fetches a placement by primary ID. Returns (nil, nil) when absent.
func (r *PlacementRepository) FindByID(ctx context.Context, id uint) (*model.Placement, error) {
	var placement model.Placement

	err := r.db.WithContext(ctx).First(&placement, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "PlacementRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch placement by ID")

		return nil, err
	}

	return &placement, nil
}

// FindAvailable returns the least-loaded active placement that still has
// spare capacity, or (nil, nil) when every placement is full.
func (r *PlacementRepository) FindAvailable(ctx context.Context) (*model.Placement, error) {
	var placement model.Placement

	err := r.db.WithContext(ctx).
		Where("status = ?", model.PlacementStatusActive).
		Where("account_count < max_accounts").
		Order("account_count ASC, id ASC").
		First(&placement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "PlacementRepository",
			"op":   "FindAvailable",
		}).WithError(err).Error("Failed to fetch available placement")

		return nil, err
	}

	return &placement, nil
}

// AddAccount reserves one account slot on the placement. The guarded update
// is atomic with respect to concurrent reservations; it reports false when
// the placement filled up (or went inactive) in the meantime.
func (r *PlacementRepository) AddAccount(ctx context.Context, placementID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Placement{}).
		Where("id = ?", placementID).
		Where("status = ?", model.PlacementStatusActive).
		Where("account_count < max_accounts").
		UpdateColumn("account_count", gorm.Expr("account_count + ?", 1))
	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "PlacementRepository",
			"op":           "AddAccount",
			"placement_id": placementID,
		}).WithError(result.Error).Error("Failed to reserve placement slot")
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

// RemoveAccount releases one account slot, clamped at zero.
func (r *PlacementRepository) RemoveAccount(ctx context.Context, placementID uint) error {
	result := r.db.WithContext(ctx).
		Model(&model.Placement{}).
		Where("id = ?", placementID).
		Where("account_count > ?", 0).
		UpdateColumn("account_count", gorm.Expr("account_count - ?", 1))
	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "PlacementRepository",
			"op":           "RemoveAccount",
			"placement_id": placementID,
		}).WithError(result.Error).Error("Failed to release placement slot")
		return result.Error
	}

	if result.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":         "PlacementRepository",
			"op":           "RemoveAccount",
			"placement_id": placementID,
		}).Warn("Placement count already at zero, decrement skipped")
	}

	return nil
}

// List returns every placement, newest first.
func (r *PlacementRepository) List(ctx context.Context) ([]model.Placement, error) {
	var placements []model.Placement

	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&placements).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PlacementRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list placements")
		return nil, err
	}

	return placements, nil
}

// UpdateMetrics refreshes live resource metrics reported by the orchestrator.
func (r *PlacementRepository) UpdateMetrics(ctx context.Context, placementID uint, cpuUsage, memoryUsage float64) error {
	err := r.db.WithContext(ctx).
		Model(&model.Placement{}).
		Where("id = ?", placementID).
		Updates(map[string]interface{}{
			"cpu_usage":    cpuUsage,
			"memory_usage": memoryUsage,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "PlacementRepository",
			"op":           "UpdateMetrics",
			"placement_id": placementID,
		}).WithError(err).Error("Failed to update placement metrics")
		return err
	}

	return nil
}
