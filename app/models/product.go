package models

import "time"

const (
	PricingModeFixed = "fixed"
	PricingModePWYW  = "pwyw"
)

type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatorID   uint      `gorm:"not null;index" json:"creator_id"`
	Slug        string    `gorm:"type:varchar(120);not null;uniqueIndex" json:"slug"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Versions []ProductVersion `gorm:"foreignKey:ProductID" json:"versions,omitempty"`
}

// ProductVersion is the sellable unit: a released version of a product with its
// own price, artifact and licensing policy.
type ProductVersion struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ProductID        uint      `gorm:"not null;index:ux_product_versions_product_slug,unique,priority:1" json:"product_id"`
	Slug             string    `gorm:"type:varchar(120);not null;index:ux_product_versions_product_slug,unique,priority:2" json:"slug"`
	Name             string    `gorm:"type:varchar(200);not null" json:"name"`
	PricingMode      string    `gorm:"type:varchar(16);not null;default:'fixed'" json:"pricing_mode"`
	PriceCents       int64     `gorm:"not null;default:0" json:"price_cents"`
	MinPriceCents    int64     `gorm:"not null;default:0" json:"min_price_cents"`
	Currency         string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	LicensingEnabled bool      `gorm:"default:false" json:"licensing_enabled"`
	ActivationLimit  int       `gorm:"not null;default:3" json:"activation_limit"`
	GitHubRepo       string    `gorm:"type:varchar(200)" json:"github_repo"`
	ArtifactKey      string    `gorm:"type:varchar(255)" json:"artifact_key"`
	IsActive         bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
