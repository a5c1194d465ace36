package model

import "time"

const (
	PlatformMT4 = "MT4"
	PlatformMT5 = "MT5"

	AccountRoleMaster = "master"
	AccountRoleSlave  = "slave"

	AccountTypeDemo = "demo"
	AccountTypeLive = "live"
)

// Account represents one MT4/MT5 trading account registered by a user.
// The credential blob is opaque to every component except the placement
// layer, which hands it to the container orchestrator on deploy.
type Account struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"index;not null" json:"user_id"`
	AccountLogin         string     `gorm:"size:100;not null" json:"account_login"`
	CredentialsEncrypted string     `gorm:"type:text;not null" json:"-"`
	ServerName           string     `gorm:"size:255;not null" json:"server_name"`
	Platform             string     `gorm:"size:10;not null" json:"platform"` // MT4 | MT5
	AccountType          string     `gorm:"size:10;not null;default:demo" json:"account_type"`
	Role                 string     `gorm:"size:10;not null" json:"role"` // master | slave
	BrokerName           string     `gorm:"size:255" json:"broker_name,omitempty"`
	Balance              float64    `json:"balance"`
	Equity               float64    `json:"equity"`
	Margin               float64    `json:"margin"`
	FreeMargin           float64    `json:"free_margin"`
	IsActive             bool       `gorm:"index;not null;default:false" json:"is_active"`
	LastConnectedAt      *time.Time `json:"last_connected_at,omitempty"`
	PlacementID          *uint      `gorm:"index" json:"placement_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
