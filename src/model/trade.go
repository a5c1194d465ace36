package model

import "time"

const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Trade mirrors one broker position on an account. Copied trades carry a
// back-reference to the master trade they replicate.
type Trade struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	AccountID     uint       `gorm:"index;not null" json:"account_id"`
	Ticket        int64      `gorm:"index;not null" json:"ticket"`
	Symbol        string     `gorm:"size:20;not null" json:"symbol"`
	TradeType     string     `gorm:"size:20;not null" json:"trade_type"`
	LotSize       float64    `gorm:"not null" json:"lot_size"`
	OpenPrice     *float64   `json:"open_price,omitempty"`
	ClosePrice    *float64   `json:"close_price,omitempty"`
	StopLoss      *float64   `json:"stop_loss,omitempty"`
	TakeProfit    *float64   `json:"take_profit,omitempty"`
	Commission    float64    `json:"commission"`
	Swap          float64    `json:"swap"`
	Profit        float64    `json:"profit"`
	MagicNumber   int64      `gorm:"not null;default:0" json:"magic_number"`
	Comment       string     `gorm:"size:255" json:"comment,omitempty"`
	OpenTime      *time.Time `json:"open_time,omitempty"`
	CloseTime     *time.Time `json:"close_time,omitempty"`
	Status        string     `gorm:"size:20;index;not null;default:open" json:"status"`
	IsCopiedTrade bool       `gorm:"not null;default:false" json:"is_copied_trade"`
	MasterTradeID *uint      `gorm:"index" json:"master_trade_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Trade) TableName() string {
	return "trades"
}
