package models

import "time"

const (
	AffiliateStatusActive   = "active"
	AffiliateStatusDisabled = "disabled"

	CommissionStatusPending   = "pending"
	CommissionStatusAvailable = "available"
	CommissionStatusReversed  = "reversed"
	CommissionStatusPaid      = "paid"

	PayoutStatusCreated   = "created"
	PayoutStatusCompleted = "completed"
)

type Affiliate struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Code          string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_affiliates_code" json:"code"`
	PayoutPercent int       `gorm:"not null;default:0" json:"payout_percent"`
	Status        string    `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	PayoutEmail   string    `gorm:"type:varchar(200)" json:"payout_email"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AffiliateAttribution records the last-click referral for one checkout
// attempt. The unique index keeps attribution last-click: a newer referral
// overwrites the row instead of adding a second one.
type AffiliateAttribution struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AffiliateID uint      `gorm:"not null;index" json:"affiliate_id"`
	AttemptID   uint      `gorm:"not null;uniqueIndex:ux_affiliate_attributions_attempt" json:"attempt_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AffiliateCommission accrues one commission per (affiliate, order). It stays
// pending through the holding period, becomes available via the maturation
// sweep, and is reversed when the order is refunded before payout.
type AffiliateCommission struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AffiliateID uint       `gorm:"not null;index:ux_affiliate_commissions_order,unique,priority:1;index" json:"affiliate_id"`
	OrderID     uint       `gorm:"not null;index:ux_affiliate_commissions_order,unique,priority:2" json:"order_id"`
	AmountCents int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency    string     `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status      string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	AvailableAt time.Time  `gorm:"type:timestamp;not null;index" json:"available_at"`
	ReversedAt  *time.Time `gorm:"type:timestamp;default:null" json:"reversed_at,omitempty"`
	PayoutID    *uint      `gorm:"index" json:"payout_id,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type AffiliatePayout struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AffiliateID     uint      `gorm:"not null;index" json:"affiliate_id"`
	AmountCents     int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency        string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CommissionCount int       `gorm:"not null;default:0" json:"commission_count"`
	Status          string    `gorm:"type:varchar(16);not null;default:'created';index" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
