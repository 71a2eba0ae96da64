package models

import "time"

const (
	EntitlementStatusActive  = "active"
	EntitlementStatusRevoked = "revoked"
)

// Entitlement grants download/license rights for one paid order and version.
// It is created in the same transaction as its order and revoked in lockstep
// with refunds and disputes.
type Entitlement struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index:ux_entitlements_user_order_version,unique,priority:1" json:"user_id"`
	OrderID   uint       `gorm:"not null;index:ux_entitlements_user_order_version,unique,priority:2" json:"order_id"`
	VersionID uint       `gorm:"not null;index:ux_entitlements_user_order_version,unique,priority:3;index" json:"version_id"`
	Status    string     `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	RevokedAt *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
