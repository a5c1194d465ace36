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

// TradeRepository handles read/write operations for trades.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main database.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create inserts a new trade. The given trade is updated with the
// generated ID and timestamps.
func (r *TradeRepository) Create(ctx context.Context, trade *model.Trade) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "TradeRepository",
		"op":      "Create",
		"account": trade.AccountID,
		"symbol":  trade.Symbol,
		"lot":     trade.LotSize,
	}).Debug("Creating trade")

	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create trade")
		return err
	}

	return nil
}

// FindByID fetches a single trade by its primary ID.
// Returns (nil, nil) if the trade is not found.
func (r *TradeRepository) FindByID(ctx context.Context, id uint) (*model.Trade, error) {
	var trade model.Trade

	err := r.db.WithContext(ctx).First(&trade, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trade by ID")

		return nil, err
	}

	return &trade, nil
}

// FindOpenSlaveTrade locates the open copied trade on the given account that
// replicates the given master trade. Returns (nil, nil) when no such trade
// exists.
func (r *TradeRepository) FindOpenSlaveTrade(ctx context.Context, masterTradeID, accountID uint) (*model.Trade, error) {
	var trade model.Trade

	err := r.db.WithContext(ctx).
		Where("master_trade_id = ?", masterTradeID).
		Where("account_id = ?", accountID).
		Where("status = ?", model.TradeStatusOpen).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":            "TradeRepository",
			"op":              "FindOpenSlaveTrade",
			"master_trade_id": masterTradeID,
			"account_id":      accountID,
		}).WithError(err).Error("Failed to fetch open slave trade")

		return nil, err
	}

	return &trade, nil
}

// Close marks a trade closed with the given close price, time and profit.
func (r *TradeRepository) Close(ctx context.Context, trade *model.Trade, closePrice *float64, closedAt time.Time, profit float64) error {
	updates := map[string]interface{}{
		"status":      model.TradeStatusClosed,
		"close_price": closePrice,
		"close_time":  closedAt,
		"profit":      profit,
	}

	err := r.db.WithContext(ctx).Model(trade).Updates(updates).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Close",
			"id":   trade.ID,
		}).WithError(err).Error("Failed to close trade")
		return err
	}

	return nil
}

// UpdateStops replaces a trade's stop-loss and take-profit levels.
func (r *TradeRepository) UpdateStops(ctx context.Context, trade *model.Trade, stopLoss, takeProfit *float64) error {
	updates := map[string]interface{}{
		"stop_loss":   stopLoss,
		"take_profit": takeProfit,
	}

	err := r.db.WithContext(ctx).Model(trade).Updates(updates).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "UpdateStops",
			"id":   trade.ID,
		}).WithError(err).Error("Failed to update trade stops")
		return err
	}

	return nil
}

// TradeSearchOptions narrows Search results. Zero-valued fields are ignored.
type TradeSearchOptions struct {
	AccountID *uint
	Symbol    *string
	Status    *string
	IsCopied  *bool
	Limit     int
	Offset    int
}

// Search returns trades for the given account filters, newest first.
func (r *TradeRepository) Search(ctx context.Context, options TradeSearchOptions) ([]model.Trade, error) {
	query := r.db.WithContext(ctx).Model(&model.Trade{})

	if options.AccountID != nil {
		query = query.Where("account_id = ?", *options.AccountID)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.IsCopied != nil {
		query = query.Where("is_copied_trade = ?", *options.IsCopied)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var trades []model.Trade
	if err := query.Find(&trades).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search trades")
		return nil, err
	}

	return trades, nil
}
