package discounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
)

var (
	ErrDiscountNotFound        = apperr.New(apperr.KindValidation, "discount code not found")
	ErrDiscountNotApplicable   = apperr.New(apperr.KindValidation, "discount is not applicable")
	ErrRedemptionLimitExceeded = apperr.New(apperr.KindRaceLoss, "discount redemption limit exceeded")
)

// Guard enforces the redemption ceiling of discount codes. The
// check-and-increment is a single conditional UPDATE so the invariant
// "redemptions <= max" holds under concurrent checkouts for the same code.
type Guard struct {
	db *gorm.DB
}

func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// Lookup resolves a code for a product/version and verifies static validity
// (status, expiry, scope). It does not consume a redemption.
func (g *Guard) Lookup(ctx context.Context, code string, productID, versionID uint) (*models.Discount, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, apperr.Validationf("discount code is required")
	}

	var discount models.Discount
	err := g.db.WithContext(ctx).
		Where("product_id = ? AND code = ?", productID, normalized).
		First(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiscountNotFound
		}
		return nil, err
	}

	if err := validate(&discount, versionID, time.Now()); err != nil {
		return nil, err
	}
	return &discount, nil
}

// Redeem consumes one redemption for an order, atomically. Validity is
// rechecked inside the same transaction that increments the counter; hitting
// the ceiling surfaces as a race loss and the order must not apply the
// discount.
func (g *Guard) Redeem(ctx context.Context, tx *gorm.DB, code string, productID, versionID, orderID uint, amountCents int64) (*models.Discount, error) {
	if tx == nil {
		tx = g.db.WithContext(ctx)
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))

	var discount models.Discount
	err := tx.Where("product_id = ? AND code = ?", productID, normalized).First(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiscountNotFound
		}
		return nil, err
	}
	if err := validate(&discount, versionID, time.Now()); err != nil {
		return nil, err
	}

	if !discount.Unlimited() {
		res := tx.Model(&models.Discount{}).
			Where("id = ? AND redeemed_count < max_redemptions", discount.ID).
			UpdateColumn("redeemed_count", gorm.Expr("redeemed_count + 1"))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrRedemptionLimitExceeded
		}
	} else {
		if err := tx.Model(&models.Discount{}).
			Where("id = ?", discount.ID).
			UpdateColumn("redeemed_count", gorm.Expr("redeemed_count + 1")).Error; err != nil {
			return nil, err
		}
	}

	// One redemption row per (discount, order); replayed reconciliation hits
	// the unique index and must not double-count.
	redemption := &models.DiscountRedemption{
		DiscountID:  discount.ID,
		OrderID:     orderID,
		AmountCents: amountCents,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "discount_id"}, {Name: "order_id"}},
		DoNothing: true,
	}).Create(redemption)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Duplicate redeem for the same order: undo the counter increment.
		if err := tx.Model(&models.Discount{}).
			Where("id = ?", discount.ID).
			UpdateColumn("redeemed_count", gorm.Expr("redeemed_count - 1")).Error; err != nil {
			return nil, err
		}
		log.Infof("[Discounts] Redemption for discount %d order %d already recorded", discount.ID, orderID)
	}

	return &discount, nil
}

// Price returns the discounted amount for a base price, floored at zero.
func Price(d *models.Discount, baseCents int64) int64 {
	if d == nil {
		return baseCents
	}
	var discounted int64
	switch d.Type {
	case models.DiscountTypePercent:
		discounted = baseCents - baseCents*d.Value/100
	case models.DiscountTypeFixed:
		discounted = baseCents - d.Value
	default:
		return baseCents
	}
	if discounted < 0 {
		return 0
	}
	return discounted
}

func validate(d *models.Discount, versionID uint, now time.Time) error {
	if d.Status != models.DiscountStatusActive {
		return ErrDiscountNotApplicable
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return ErrDiscountNotApplicable
	}
	if d.VersionID != nil && *d.VersionID != versionID {
		return ErrDiscountNotApplicable
	}
	return nil
}
