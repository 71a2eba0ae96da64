package models

import "time"

const (
	OrderStatusPending           = "pending"
	OrderStatusPaid              = "paid"
	OrderStatusRefunded          = "refunded"
	OrderStatusPartiallyRefunded = "partially_refunded"
	OrderStatusDisputed          = "disputed"
	OrderStatusCanceled          = "canceled"
)

// Order is created exactly once per successfully paid checkout. The globally
// unique provider session/payment identifiers are the idempotency anchor for
// duplicate event delivery.
type Order struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	AttemptID         uint      `gorm:"not null;index" json:"attempt_id"`
	ProviderSessionID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_orders_provider_session" json:"provider_session_id"`
	ProviderPaymentID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_orders_provider_payment" json:"provider_payment_id"`
	Status            string    `gorm:"type:varchar(24);not null;default:'pending';index" json:"status"`
	SubtotalCents     int64     `gorm:"not null;default:0" json:"subtotal_cents"`
	DiscountCents     int64     `gorm:"not null;default:0" json:"discount_cents"`
	TotalCents        int64     `gorm:"not null;default:0" json:"total_cents"`
	RefundedCents     int64     `gorm:"not null;default:0" json:"refunded_cents"`
	Currency          string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CustomerEmail     string    `gorm:"type:varchar(200);index" json:"customer_email"`
	DiscountCode      string    `gorm:"type:varchar(64)" json:"discount_code"`
	AffiliateCode     string    `gorm:"type:varchar(64);index" json:"affiliate_code"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

type OrderItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrderID        uint      `gorm:"not null;index" json:"order_id"`
	ProductID      uint      `gorm:"not null;index" json:"product_id"`
	VersionID      uint      `gorm:"not null;index" json:"version_id"`
	UnitPriceCents int64     `gorm:"not null;default:0" json:"unit_price_cents"`
	Quantity       int       `gorm:"not null;default:1" json:"quantity"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// OrderRefund records one applied refund or dispute event. The unique
// provider event id is what keeps `refunded_cents` additions from being
// applied twice when an event is redelivered or replayed.
type OrderRefund struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OrderID         uint      `gorm:"not null;index" json:"order_id"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_order_refunds_event" json:"provider_event_id"`
	AmountCents     int64     `gorm:"not null;default:0" json:"amount_cents"`
	Dispute         bool      `gorm:"not null;default:false" json:"dispute"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsTerminalRevokedState reports whether a refund/dispute event for this order
// has already been applied and reconciliation should no-op.
func (o *Order) IsTerminalRevokedState() bool {
	switch o.Status {
	case OrderStatusRefunded, OrderStatusDisputed, OrderStatusCanceled:
		return true
	default:
		return false
	}
}
