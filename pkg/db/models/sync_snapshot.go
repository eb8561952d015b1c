package models

import "time"

// SyncSnapshot is one persisted key in the sync_snapshots table. A nil
// ExpiresAt never expires.
type SyncSnapshot struct {
	Key       string     `gorm:"column:snapshot_key;primaryKey"`
	Value     string     `gorm:"column:value;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index:sync_snapshots_expires_at_idx"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
}

func (SyncSnapshot) TableName() string { return "sync_snapshots" }
