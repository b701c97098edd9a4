package main

import (
	"time"
)

// Tunnel is one controlled tunnel row. Exactly two exist: wg0 (the
// primary WireGuard tunnel) and ss (the secure tunnel with a regional
// profile).
type Tunnel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `gorm:"uniqueIndex" json:"name"`
	Active    bool      `json:"active"`
	Profile   string    `json:"profile"`
}

// ChangeEvent is the audit trail: one row per applied field change.
type ChangeEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `gorm:"index" json:"request_id"`
	Field     string    `json:"field"`
	Value     string    `json:"value"`
}
