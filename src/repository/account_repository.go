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

// AccountRepository handles read/write operations for trading accounts.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{db: database.MainDB}
}

func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create account")
		return err
	}
	return nil
}

// FindByID fetches an account by its primary ID.
// Returns (nil, nil) if the account is not found.
func (r *AccountRepository) FindByID(ctx context.Context, id uint) (*model.Account, error) {
	var account model.Account

	err := r.db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch account by ID")

		return nil, err
	}

	return &account, nil
}

// FindByIDForUser fetches an account only when it belongs to the given user.
// Returns (nil, nil) when absent or owned by someone else, so callers can
// treat both uniformly as "not yours".
func (r *AccountRepository) FindByIDForUser(ctx context.Context, id, userID uint) (*model.Account, error) {
	var account model.Account

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "AccountRepository",
			"op":      "FindByIDForUser",
			"id":      id,
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch account for user")

		return nil, err
	}

	return &account, nil
}

// FindByUser returns all accounts owned by the given user, newest first.
func (r *AccountRepository) FindByUser(ctx context.Context, userID uint) ([]model.Account, error) {
	var accounts []model.Account

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&accounts).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "AccountRepository",
			"op":      "FindByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch accounts for user")
		return nil, err
	}

	return accounts, nil
}

// SetDeployment records a successful placement bring-up on the account:
// placement reference, active flag and last-connected timestamp.
func (r *AccountRepository) SetDeployment(ctx context.Context, accountID, placementID uint, connectedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"placement_id":      placementID,
			"is_active":         true,
			"last_connected_at": connectedAt,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "AccountRepository",
			"op":           "SetDeployment",
			"account_id":   accountID,
			"placement_id": placementID,
		}).WithError(err).Error("Failed to record account deployment")
		return err
	}

	return nil
}

// ClearDeployment removes the placement reference and deactivates the
// account. It only touches accounts that still carry a placement, so a
// concurrent stop that already cleared it reports cleared=false and must not
// release the slot a second time.
func (r *AccountRepository) ClearDeployment(ctx context.Context, accountID uint) (cleared bool, err error) {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Where("placement_id IS NOT NULL").
		Updates(map[string]interface{}{
			"placement_id": nil,
			"is_active":    false,
		})
	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "ClearDeployment",
			"account_id": accountID,
		}).WithError(result.Error).Error("Failed to clear account deployment")
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}
