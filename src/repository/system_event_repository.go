package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecopier/src/database"
	"tradecopier/src/model"
)

// SystemEventRepository appends to the operational event log.
type SystemEventRepository struct {
	db *gorm.DB
}

func NewSystemEventRepository() *SystemEventRepository {
	return &SystemEventRepository{db: database.MainDB}
}

func (r *SystemEventRepository) WithDB(db *gorm.DB) *SystemEventRepository {
	return &SystemEventRepository{db: db}
}

// Log appends one event. Failures are logged but swallowed: the event log
// must never fail the operation it describes.
func (r *SystemEventRepository) Log(ctx context.Context, event *model.SystemEvent) {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "SystemEventRepository",
			"op":         "Log",
			"event_type": event.EventType,
		}).WithError(err).Error("Failed to append system event")
	}
}

// SystemEventSearchOptions narrows Search results.
type SystemEventSearchOptions struct {
	AccountID *uint
	Severity  *string
	Limit     int
	Offset    int
}

// Search returns events newest first.
func (r *SystemEventRepository) Search(ctx context.Context, options SystemEventSearchOptions) ([]model.SystemEvent, error) {
	query := r.db.WithContext(ctx).Model(&model.SystemEvent{})

	if options.AccountID != nil {
		query = query.Where("account_id = ?", *options.AccountID)
	}
	if options.Severity != nil {
		query = query.Where("severity = ?", *options.Severity)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var events []model.SystemEvent
	if err := query.Find(&events).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SystemEventRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search system events")
		return nil, err
	}

	return events, nil
}
