package models

import "time"

const (
	DiscountTypePercent = "percent"
	DiscountTypeFixed   = "fixed"

	DiscountStatusActive   = "active"
	DiscountStatusDisabled = "disabled"
)

// Discount is scoped to one product, optionally narrowed to a single version.
// redeemed_count is only ever advanced through a conditional UPDATE gated by
// max_redemptions, so the ceiling holds under concurrent checkouts.
type Discount struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ProductID      uint       `gorm:"not null;index:ux_discounts_product_code,unique,priority:1" json:"product_id"`
	VersionID      *uint      `gorm:"index" json:"version_id,omitempty"`
	Code           string     `gorm:"type:varchar(64);not null;index:ux_discounts_product_code,unique,priority:2" json:"code"`
	Type           string     `gorm:"type:varchar(16);not null;default:'percent'" json:"type"`
	Value          int64      `gorm:"not null;default:0" json:"value"`
	Status         string     `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	MaxRedemptions int        `gorm:"not null;default:0" json:"max_redemptions"`
	RedeemedCount  int        `gorm:"not null;default:0" json:"redeemed_count"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Unlimited reports whether the discount has no redemption ceiling.
func (d *Discount) Unlimited() bool {
	return d.MaxRedemptions <= 0
}

type DiscountRedemption struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DiscountID  uint      `gorm:"not null;index:ux_discount_redemptions_order,unique,priority:1" json:"discount_id"`
	OrderID     uint      `gorm:"not null;index:ux_discount_redemptions_order,unique,priority:2" json:"order_id"`
	AmountCents int64     `gorm:"not null;default:0" json:"amount_cents"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
