package models

import "time"

const (
	LicenseStatusActive  = "active"
	LicenseStatusRevoked = "revoked"

	ActivationStatusActive  = "active"
	ActivationStatusRevoked = "revoked"
)

// License is issued once per order+version. Revocation is terminal and
// refund-triggered; it cascades to all activations.
type License struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Key             string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_licenses_key" json:"key"`
	OrderID         uint       `gorm:"not null;index:ux_licenses_order_version,unique,priority:1" json:"order_id"`
	VersionID       uint       `gorm:"not null;index:ux_licenses_order_version,unique,priority:2" json:"version_id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	ActivationLimit int        `gorm:"not null;default:3" json:"activation_limit"`
	Status          string     `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	RevokedAt       *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Activations []LicenseActivation `gorm:"foreignKey:LicenseID" json:"activations,omitempty"`
}

// LicenseActivation binds a license to one device. last_seen_at drives both the
// offline-grace grant and the staleness pruning sweep.
type LicenseActivation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	LicenseID  uint      `gorm:"not null;index:ux_license_activations_device,unique,priority:1" json:"license_id"`
	DeviceHash string    `gorm:"type:varchar(128);not null;index:ux_license_activations_device,unique,priority:2" json:"device_hash"`
	Status     string    `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	LastSeenAt time.Time `gorm:"type:timestamp;not null;index" json:"last_seen_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
