package model

import "time"

const (
	PlacementStatusActive   = "active"
	PlacementStatusDraining = "draining"
	PlacementStatusDead     = "dead"

	// DefaultPlacementCapacity caps how many live account sessions a
	// single container hosts.
	DefaultPlacementCapacity = 100
)

// Placement is one compute container hosting live trading sessions.
// AccountCount is only ever mutated through single-statement guarded
// updates so it stays within [0, MaxAccounts] under concurrency.
type Placement struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ContainerID  string    `gorm:"size:100;uniqueIndex;not null" json:"container_id"`
	ServerIP     string    `gorm:"size:45" json:"server_ip"`
	Region       string    `gorm:"size:50" json:"region"`
	Status       string    `gorm:"size:20;index;not null;default:active" json:"status"`
	AccountCount int       `gorm:"not null;default:0" json:"account_count"`
	MaxAccounts  int       `gorm:"not null;default:100" json:"max_accounts"`
	CPUUsage     float64   `json:"cpu_usage"`
	MemoryUsage  float64   `json:"memory_usage"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Placement) TableName() string {
	return "placements"
}
