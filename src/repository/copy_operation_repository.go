package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecopier/src/database"
	"tradecopier/src/model"
)

// ErrClaimContention reports a claim that kept losing the insert race while
// the winning row settled as failed before it could be observed. The key is
// contended but free; the caller may retry.
var ErrClaimContention = errors.New("copy operation claim lost to a concurrent settle")

// CopyOperationRepository is the append-only replication ledger.
// The pending-row insert in Claim is the serialization point that makes
// duplicate copy requests safe.
type CopyOperationRepository struct {
	db *gorm.DB
}

func NewCopyOperationRepository() *CopyOperationRepository {
	return &CopyOperationRepository{db: database.MainDB}
}

func (r *CopyOperationRepository) WithDB(db *gorm.DB) *CopyOperationRepository {
	return &CopyOperationRepository{db: db}
}

// Claim inserts a pending ledger row for the given idempotency key.
// When a non-failed row already exists for the key, the insert loses to the
// unique index and the existing row is returned with claimed=false; the
// caller must not execute the slave-side effect in that case.
func (r *CopyOperationRepository) Claim(ctx context.Context, masterTradeID, copyRuleID uint, operationType string) (*model.CopyOperation, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		candidate := &model.CopyOperation{
			MasterTradeID: masterTradeID,
			CopyRuleID:    copyRuleID,
			OperationType: operationType,
			Status:        model.CopyOperationStatusPending,
		}

		err := r.db.WithContext(ctx).Create(candidate).Error
		if err == nil {
			logger.WithFields(map[string]interface{}{
				"repo":            "CopyOperationRepository",
				"op":              "Claim",
				"master_trade_id": masterTradeID,
				"copy_rule_id":    copyRuleID,
				"operation_type":  operationType,
				"operation_id":    candidate.ID,
			}).Debug("Claimed pending copy operation")

			return candidate, true, nil
		}

		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.WithFields(map[string]interface{}{
				"repo": "CopyOperationRepository",
				"op":   "Claim",
			}).WithError(err).Error("Failed to claim copy operation")
			return nil, false, err
		}

		existing, err := r.FindInflight(ctx, masterTradeID, copyRuleID, operationType)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}

		// The concurrent holder settled as failed between our insert and the
		// lookup, so the key is free again; re-attempt the insert.
	}

	return nil, false, ErrClaimContention
}

// FindInflight returns the unique non-failed row for the idempotency key,
// or (nil, nil) when none exists.
func (r *CopyOperationRepository) FindInflight(ctx context.Context, masterTradeID, copyRuleID uint, operationType string) (*model.CopyOperation, error) {
	var op model.CopyOperation

	err := r.db.WithContext(ctx).
		Where("master_trade_id = ?", masterTradeID).
		Where("copy_rule_id = ?", copyRuleID).
		Where("operation_type = ?", operationType).
		Where("status <> ?", model.CopyOperationStatusFailed).
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":            "CopyOperationRepository",
			"op":              "FindInflight",
			"master_trade_id": masterTradeID,
			"copy_rule_id":    copyRuleID,
		}).WithError(err).Error("Failed to fetch in-flight copy operation")

		return nil, err
	}

	return &op, nil
}

// FindByID fetches a ledger row by primary ID. Returns (nil, nil) when absent.
func (r *CopyOperationRepository) FindByID(ctx context.Context, id uint) (*model.CopyOperation, error) {
	var op model.CopyOperation

	err := r.db.WithContext(ctx).First(&op, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "CopyOperationRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch copy operation by ID")

		return nil, err
	}

	return &op, nil
}

// MarkSuccess transitions a claimed row to success with the effect latency
// and the resulting slave trade reference.
func (r *CopyOperationRepository) MarkSuccess(ctx context.Context, op *model.CopyOperation, slaveTradeID *uint, latency time.Duration) error {
	executedAt := time.Now().UTC()

	err := r.db.WithContext(ctx).Model(op).Updates(map[string]interface{}{
		"status":         model.CopyOperationStatusSuccess,
		"slave_trade_id": slaveTradeID,
		"latency_ms":     latency.Milliseconds(),
		"executed_at":    executedAt,
	}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CopyOperationRepository",
			"op":   "MarkSuccess",
			"id":   op.ID,
		}).WithError(err).Error("Failed to mark copy operation successful")
		return err
	}

	op.Status = model.CopyOperationStatusSuccess
	op.SlaveTradeID = slaveTradeID
	op.LatencyMS = latency.Milliseconds()
	op.ExecutedAt = &executedAt

	return nil
}

// MarkFailed transitions a claimed row to failed with the error detail.
func (r *CopyOperationRepository) MarkFailed(ctx context.Context, op *model.CopyOperation, message string, latency time.Duration) error {
	executedAt := time.Now().UTC()

	err := r.db.WithContext(ctx).Model(op).Updates(map[string]interface{}{
		"status":        model.CopyOperationStatusFailed,
		"error_message": message,
		"latency_ms":    latency.Milliseconds(),
		"executed_at":   executedAt,
	}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CopyOperationRepository",
			"op":   "MarkFailed",
			"id":   op.ID,
		}).WithError(err).Error("Failed to mark copy operation failed")
		return err
	}

	op.Status = model.CopyOperationStatusFailed
	op.ErrorMessage = message
	op.LatencyMS = latency.Milliseconds()
	op.ExecutedAt = &executedAt

	return nil
}

// SweepStale marks pending rows older than the cutoff as failed so that a
// crash between claim and settle cannot strand a row forever. Returns the
// rows it settled.
func (r *CopyOperationRepository) SweepStale(ctx context.Context, olderThan time.Time) ([]model.CopyOperation, error) {
	var stale []model.CopyOperation

	err := r.db.WithContext(ctx).
		Where("status = ?", model.CopyOperationStatusPending).
		Where("created_at < ?", olderThan).
		Find(&stale).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CopyOperationRepository",
			"op":   "SweepStale",
		}).WithError(err).Error("Failed to list stale copy operations")
		return nil, err
	}

	for i := range stale {
		if err := r.MarkFailed(ctx, &stale[i], "operation timed out", 0); err != nil {
			return stale[:i], err
		}
	}

	return stale, nil
}

// CopyOperationSearchOptions narrows Search results.
type CopyOperationSearchOptions struct {
	UserID     uint
	CopyRuleID *uint
	Status     *string
	Limit      int
	Offset     int
}

// Search returns ledger rows for the given user's rules, newest first.
func (r *CopyOperationRepository) Search(ctx context.Context, options CopyOperationSearchOptions) ([]model.CopyOperation, error) {
	query := r.db.WithContext(ctx).
		Model(&model.CopyOperation{}).
		Joins("JOIN copy_rules ON copy_rules.id = copy_operations.copy_rule_id").
		Where("copy_rules.user_id = ?", options.UserID)

	if options.CopyRuleID != nil {
		query = query.Where("copy_operations.copy_rule_id = ?", *options.CopyRuleID)
	}
	if options.Status != nil {
		query = query.Where("copy_operations.status = ?", *options.Status)
	}

	query = query.Order("copy_operations.created_at DESC, copy_operations.id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var operations []model.CopyOperation
	if err := query.Find(&operations).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "CopyOperationRepository",
			"op":      "Search",
			"user_id": options.UserID,
		}).WithError(err).Error("Failed to search copy operations")
		return nil, err
	}

	return operations, nil
}
