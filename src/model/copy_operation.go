package model

import "time"

const (
	OperationTypeOpen   = "OPEN"
	OperationTypeClose  = "CLOSE"
	OperationTypeModify = "MODIFY"

	CopyOperationStatusPending = "pending"
	CopyOperationStatusSuccess = "success"
	CopyOperationStatusFailed  = "failed"
)

// CopyOperation is the append-only ledger: one row per replication attempt.
// The partial unique index over the key columns is the idempotency
// serialization point; at most one non-failed row may exist per
// (master trade, rule, operation type).
type CopyOperation struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	MasterTradeID uint   `gorm:"not null;uniqueIndex:ux_copy_operations_inflight,where:status <> 'failed'" json:"master_trade_id"`
	CopyRuleID    uint   `gorm:"not null;uniqueIndex:ux_copy_operations_inflight,where:status <> 'failed'" json:"copy_rule_id"`
	OperationType string `gorm:"size:10;not null;uniqueIndex:ux_copy_operations_inflight,where:status <> 'failed'" json:"operation_type"`

	Status       string     `gorm:"size:20;index;not null;default:pending" json:"status"`
	SlaveTradeID *uint      `gorm:"index" json:"slave_trade_id,omitempty"`
	LatencyMS    int64      `gorm:"column:latency_ms" json:"latency_ms"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int        `gorm:"not null;default:0" json:"retry_count"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (CopyOperation) TableName() string {
	return "copy_operations"
}

// Settled reports whether the operation has reached a terminal status.
func (op *CopyOperation) Settled() bool {
	return op.Status == CopyOperationStatusSuccess || op.Status == CopyOperationStatusFailed
}
