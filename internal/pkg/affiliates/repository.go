package affiliates

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
)

// Repository provides DB operations used by the affiliate ledger.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*models.Affiliate, error)
	UpsertAttribution(ctx context.Context, attribution *models.AffiliateAttribution) error
	GetAttributionByAttempt(ctx context.Context, attemptID uint) (*models.AffiliateAttribution, error)
	GetOrder(ctx context.Context, orderID uint) (*models.Order, error)
	CreateCommissionIfNotExists(ctx context.Context, c *models.AffiliateCommission) (bool, *models.AffiliateCommission, error)
	GetCommissionByOrder(ctx context.Context, orderID uint) (*models.AffiliateCommission, error)
	ReverseCommission(ctx context.Context, commissionID uint, at time.Time) (int64, error)
	MatureCommissions(ctx context.Context, now time.Time) (int64, error)
	AffiliatesWithAvailableCommissions(ctx context.Context) ([]uint, error)
	PayoutBatch(ctx context.Context, affiliateID uint) (*models.AffiliatePayout, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an affiliate repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&affiliate).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

func (r *gormRepository) UpsertAttribution(ctx context.Context, attribution *models.AffiliateAttribution) error {
	// Last-click: a newer referral for the same attempt overwrites the row.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"affiliate_id", "updated_at"}),
	}).Create(attribution).Error
}

func (r *gormRepository) GetAttributionByAttempt(ctx context.Context, attemptID uint) (*models.AffiliateAttribution, error) {
	var attribution models.AffiliateAttribution
	if err := r.db.WithContext(ctx).Where("attempt_id = ?", attemptID).First(&attribution).Error; err != nil {
		return nil, err
	}
	return &attribution, nil
}

func (r *gormRepository) GetOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) CreateCommissionIfNotExists(ctx context.Context, c *models.AffiliateCommission) (bool, *models.AffiliateCommission, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "affiliate_id"},
			{Name: "order_id"},
		},
		DoNothing: true,
	}).Create(c)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.AffiliateCommission
	if err := db.Where("affiliate_id = ? AND order_id = ?", c.AffiliateID, c.OrderID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetCommissionByOrder(ctx context.Context, orderID uint) (*models.AffiliateCommission, error) {
	var commission models.AffiliateCommission
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&commission).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *gormRepository) ReverseCommission(ctx context.Context, commissionID uint, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AffiliateCommission{}).
		Where("id = ? AND status IN ?", commissionID,
			[]string{models.CommissionStatusPending, models.CommissionStatusAvailable}).
		Updates(map[string]interface{}{
			"status":      models.CommissionStatusReversed,
			"reversed_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) MatureCommissions(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AffiliateCommission{}).
		Where("status = ? AND available_at <= ?", models.CommissionStatusPending, now).
		Update("status", models.CommissionStatusAvailable)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) AffiliatesWithAvailableCommissions(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.AffiliateCommission{}).
		Where("status = ?", models.CommissionStatusAvailable).
		Distinct("affiliate_id").
		Pluck("affiliate_id", &ids).Error
	return ids, err
}

// PayoutBatch creates one payout for all available commissions of an affiliate
// and flips them to paid atomically, so a commission can never land in two
// payouts.
func (r *gormRepository) PayoutBatch(ctx context.Context, affiliateID uint) (*models.AffiliatePayout, error) {
	var payout *models.AffiliatePayout

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var commissions []models.AffiliateCommission
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("affiliate_id = ? AND status = ?", affiliateID, models.CommissionStatusAvailable).
			Find(&commissions).Error; err != nil {
			return err
		}
		if len(commissions) == 0 {
			return nil
		}

		var total int64
		currency := "usd"
		ids := make([]uint, 0, len(commissions))
		for _, c := range commissions {
			total += c.AmountCents
			currency = c.Currency
			ids = append(ids, c.ID)
		}

		p := &models.AffiliatePayout{
			AffiliateID:     affiliateID,
			AmountCents:     total,
			Currency:        currency,
			CommissionCount: len(commissions),
			Status:          models.PayoutStatusCreated,
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.AffiliateCommission{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.CommissionStatusPaid,
				"payout_id": p.ID,
			}).Error; err != nil {
			return err
		}

		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}
