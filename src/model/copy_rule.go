package model

import "time"

// CopyRule wires one master account to one slave account and carries the
// filtering and sizing configuration the copy engine applies per trade.
type CopyRule struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"index;not null" json:"user_id"`
	MasterAccountID   uint      `gorm:"index;not null" json:"master_account_id"`
	SlaveAccountID    uint      `gorm:"index;not null" json:"slave_account_id"`
	LotMultiplier     float64   `gorm:"not null;default:1" json:"lot_multiplier"`
	MaxLotSize        float64   `gorm:"not null;default:1" json:"max_lot_size"`
	RiskPercentage    float64   `json:"risk_percentage"`
	CopyPendingOrders bool      `gorm:"not null;default:false" json:"copy_pending_orders"`
	CopyStopLoss      bool      `gorm:"not null;default:true" json:"copy_stop_loss"`
	CopyTakeProfit    bool      `gorm:"not null;default:true" json:"copy_take_profit"`
	SymbolFilter      []string  `gorm:"serializer:json;type:text" json:"symbol_filter,omitempty"`
	MagicNumberFilter []int64   `gorm:"serializer:json;type:text" json:"magic_number_filter,omitempty"`
	IsActive          bool      `gorm:"index;not null;default:true" json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	MasterAccount *Account `gorm:"foreignKey:MasterAccountID" json:"master_account,omitempty"`
	SlaveAccount  *Account `gorm:"foreignKey:SlaveAccountID" json:"slave_account,omitempty"`
}

func (CopyRule) TableName() string {
	return "copy_rules"
}
