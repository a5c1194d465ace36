package model

import "time"

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"

	EventTradeCopied             = "trade_copied"
	EventTradeCopyFailed         = "trade_copy_failed"
	EventCopyOperationTimedOut   = "copy_operation_timed_out"
	EventAccountDeployed         = "account_deployed"
	EventAccountDeploymentFailed = "account_deployment_failed"
	EventAccountStopped          = "account_stopped"
	EventAccountStopFailed       = "account_stop_failed"
)

// SystemEvent is the append-only operational log. Write-only from the
// engine and placement layers, read by observability and the UI.
type SystemEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EventType   string         `gorm:"size:100;index;not null" json:"event_type"`
	Severity    string         `gorm:"size:20;index;not null;default:info" json:"severity"` // info | warning | error
	Message     string         `gorm:"type:text;not null" json:"message"`
	AccountID   *uint          `gorm:"index" json:"account_id,omitempty"`
	PlacementID *uint          `gorm:"index" json:"placement_id,omitempty"`
	Metadata    map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (SystemEvent) TableName() string {
	return "system_events"
}
