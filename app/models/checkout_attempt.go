package models

import "time"

const (
	AttemptStatusCreated    = "created"
	AttemptStatusRedirected = "redirected"
	AttemptStatusCompleted  = "completed"
	AttemptStatusExpired    = "expired"
	AttemptStatusFailed     = "failed"
)

// CheckoutAttempt deduplicates checkout-initiation requests before any provider
// session exists. The (attempt_id, product, version) unique index is the sole
// defense against duplicate session creation from double-clicks.
type CheckoutAttempt struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	AttemptID   string `gorm:"type:varchar(64);not null;index:ux_checkout_attempts_attempt,unique,priority:1" json:"attempt_id"`
	ProductID   uint   `gorm:"not null;index:ux_checkout_attempts_attempt,unique,priority:2" json:"product_id"`
	VersionID   uint   `gorm:"not null;index:ux_checkout_attempts_attempt,unique,priority:3" json:"version_id"`
	PricingMode string `gorm:"type:varchar(16);not null;default:'fixed'" json:"pricing_mode"`
	// ListAmountCents is the pre-discount base price; AmountCents is what the
	// provider actually charges after the discount.
	ListAmountCents   int64     `gorm:"not null;default:0" json:"list_amount_cents"`
	AmountCents       int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	DiscountCode      string    `gorm:"type:varchar(64)" json:"discount_code"`
	AffiliateCode     string    `gorm:"type:varchar(64);index" json:"affiliate_code"`
	CustomerEmail     string    `gorm:"type:varchar(200)" json:"customer_email"`
	ProviderSessionID string    `gorm:"type:varchar(191);index" json:"provider_session_id"`
	CheckoutURL       string    `gorm:"type:varchar(500)" json:"checkout_url"`
	Status            string    `gorm:"type:varchar(16);not null;default:'created';index" json:"status"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
