package models

import "time"

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusDelivering = "delivering"
	DeliveryStatusSucceeded  = "succeeded"
	DeliveryStatusDead       = "dead"
)

// WebhookSubscription is a creator-owned outbound endpoint. EventTypes is a
// comma-separated filter; empty means all event types.
type WebhookSubscription struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatorID  uint      `gorm:"not null;index" json:"creator_id"`
	URL        string    `gorm:"type:varchar(500);not null" json:"url"`
	Secret     string    `gorm:"type:varchar(128);not null" json:"-"`
	EventTypes string    `gorm:"type:varchar(500)" json:"event_types"`
	IsActive   bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WebhookDelivery is one outbound delivery with its own retry schedule,
// independent of the generic job backoff. One row per (subscription, event).
type WebhookDelivery struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID uint       `gorm:"not null;index:ux_webhook_deliveries_sub_event,unique,priority:1" json:"subscription_id"`
	EventID        string     `gorm:"type:varchar(191);not null;index:ux_webhook_deliveries_sub_event,unique,priority:2" json:"event_id"`
	EventType      string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON    string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status         string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_webhook_deliveries_status_next,priority:1" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt  time.Time  `gorm:"type:timestamp;not null;index:idx_webhook_deliveries_status_next,priority:2" json:"next_attempt_at"`
	LastStatusCode int        `gorm:"not null;default:0" json:"last_status_code"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	DeliveredAt    *time.Time `gorm:"type:timestamp;default:null" json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
