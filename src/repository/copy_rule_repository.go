package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecopier/src/database"
	"tradecopier/src/model"
)

// ErrSameAccount is returned when a rule would copy an account onto itself.
var ErrSameAccount = errors.New("copy rule master and slave accounts must differ")

// CopyRuleRepository handles read/write operations for copy rules.
type CopyRuleRepository struct {
	db *gorm.DB
}

func NewCopyRuleRepository() *CopyRuleRepository {
	return &CopyRuleRepository{db: database.MainDB}
}

func (r *CopyRuleRepository) WithDB(db *gorm.DB) *CopyRuleRepository {
	return &CopyRuleRepository{db: db}
}

// Create inserts a new rule after checking the master/slave distinctness
// invariant.
func (r *CopyRuleRepository) Create(ctx context.Context, rule *model.CopyRule) error {
	if rule.MasterAccountID == rule.SlaveAccountID {
		return ErrSameAccount
	}

	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CopyRuleRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create copy rule")
		return err
	}

	return nil
}

// FindActiveByID fetches an active rule with both accounts preloaded.
// Returns (nil, nil) when the rule does not exist or is inactive.
func (r *CopyRuleRepository) FindActiveByID(ctx context.Context, id uint) (*model.CopyRule, error) {
	var rule model.CopyRule

	err := r.db.WithContext(ctx).
		Preload("MasterAccount").
		Preload("SlaveAccount").
		Where("id = ?", id).
		Where("is_active = ?", true).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "CopyRuleRepository",
			"op":   "FindActiveByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch active copy rule")

		return nil, err
	}

	return &rule, nil
}

// FindByIDForUser fetches a rule only when it belongs to the given user.
// Returns (nil, nil) when absent or owned by someone else.
func (r *CopyRuleRepository) FindByIDForUser(ctx context.Context, id, userID uint) (*model.CopyRule, error) {
	var rule model.CopyRule

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "CopyRuleRepository",
			"op":      "FindByIDForUser",
			"id":      id,
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch copy rule for user")

		return nil, err
	}

	return &rule, nil
}

// FindByID fetches a rule regardless of activity or owner.
// Returns (nil, nil) when absent.
func (r *CopyRuleRepository) FindByID(ctx context.Context, id uint) (*model.CopyRule, error) {
	var rule model.CopyRule

	err := r.db.WithContext(ctx).First(&rule, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "CopyRuleRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch copy rule")

		return nil, err
	}

	return &rule, nil
}

// FindActiveByMasterAccount returns all active rules replicating from the
// given master account. Used by the dispatcher to fan a master trade event
// out across every rule that references it.
func (r *CopyRuleRepository) FindActiveByMasterAccount(ctx context.Context, masterAccountID uint) ([]model.CopyRule, error) {
	var rules []model.CopyRule

	err := r.db.WithContext(ctx).
		Where("master_account_id = ?", masterAccountID).
		Where("is_active = ?", true).
		Order("created_at DESC, id DESC").
		Find(&rules).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":              "CopyRuleRepository",
			"op":                "FindActiveByMasterAccount",
			"master_account_id": masterAccountID,
		}).WithError(err).Error("Failed to fetch active rules for master account")
		return nil, err
	}

	return rules, nil
}
