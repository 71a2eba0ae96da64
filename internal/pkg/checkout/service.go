package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/discounts"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"

	affiliatespkg "github.com/MartinGrube/SoloStore/internal/pkg/affiliates"
)

// StaleAttemptAge is how long an attempt may sit without completing before the
// expiry sweep closes it.
const StaleAttemptAge = 24 * time.Hour

// SessionTakeoverAge is how long a session-less attempt must sit before a
// duplicate request may take it over. Below this the first request is assumed
// to still be in flight at the provider.
const SessionTakeoverAge = 2 * time.Minute

var validate = validator.New()

// CreateSessionRequest is the client-facing checkout-initiation payload. The
// attempt id is generated client-side so retries of the same click collapse
// onto one attempt row.
type CreateSessionRequest struct {
	AttemptID     string `json:"attempt_id" validate:"required,min=8,max=64"`
	ProductID     uint   `json:"product_id" validate:"required"`
	VersionID     uint   `json:"version_id" validate:"required"`
	AmountCents   int64  `json:"amount_cents" validate:"omitempty,gte=0"`
	DiscountCode  string `json:"discount_code" validate:"omitempty,max=64"`
	AffiliateCode string `json:"affiliate_code" validate:"omitempty,max=64"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email,max=200"`
	SuccessURL    string `json:"success_url" validate:"omitempty,url,max=500"`
	CancelURL     string `json:"cancel_url" validate:"omitempty,url,max=500"`
}

type CreateSessionResult struct {
	Attempt     *models.CheckoutAttempt
	CheckoutURL string
}

// Service owns checkout initiation: attempt deduplication, pricing, discount
// preview, affiliate attribution and the provider session call.
type Service struct {
	db         *gorm.DB
	payments   *payments.Client
	guard      *discounts.Guard
	affiliates *affiliatespkg.Service
}

func NewService(db *gorm.DB, client *payments.Client, guard *discounts.Guard, affiliates *affiliatespkg.Service) *Service {
	return &Service{db: db, payments: client, guard: guard, affiliates: affiliates}
}

// CreateSession initiates checkout for one product version. Calling it again
// with the same attempt id returns the already-created session instead of
// opening a second one.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid checkout request", err)
	}

	var version models.ProductVersion
	if err := s.db.WithContext(ctx).
		Where("id = ? AND product_id = ? AND is_active = ?", req.VersionID, req.ProductID, true).
		First(&version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validationf("product version not found or not for sale")
		}
		return nil, err
	}

	amount, err := resolveAmount(&version, req.AmountCents)
	if err != nil {
		return nil, err
	}
	listAmount := amount

	var discount *models.Discount
	if req.DiscountCode != "" {
		discount, err = s.guard.Lookup(ctx, req.DiscountCode, req.ProductID, req.VersionID)
		if err != nil {
			return nil, err
		}
		amount = discounts.Price(discount, amount)
	}
	if amount <= 0 {
		return nil, apperr.Validationf("checkout amount after discount must be positive")
	}

	attempt := &models.CheckoutAttempt{
		AttemptID:       req.AttemptID,
		ProductID:       req.ProductID,
		VersionID:       req.VersionID,
		PricingMode:     version.PricingMode,
		ListAmountCents: listAmount,
		AmountCents:     amount,
		Currency:        version.Currency,
		CustomerEmail:   req.CustomerEmail,
		Status:          models.AttemptStatusCreated,
	}
	if discount != nil {
		attempt.DiscountCode = discount.Code
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "product_id"}, {Name: "version_id"}},
		DoNothing: true,
	}).Create(attempt)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Duplicate initiation: hand back whatever the first request produced.
		var existing models.CheckoutAttempt
		if err := s.db.WithContext(ctx).
			Where("attempt_id = ? AND product_id = ? AND version_id = ?", req.AttemptID, req.ProductID, req.VersionID).
			First(&existing).Error; err != nil {
			return nil, err
		}
		if existing.CheckoutURL != "" {
			log.Infof("[Checkout] Attempt %s already has session %s", existing.AttemptID, existing.ProviderSessionID)
			return &CreateSessionResult{Attempt: &existing, CheckoutURL: existing.CheckoutURL}, nil
		}
		// No session stored yet: either the first request is still waiting on
		// the provider, or it crashed. Taking over while it is in flight would
		// mint a second provider session for the same attempt, so only
		// abandoned attempts are taken over.
		if time.Since(existing.UpdatedAt) < SessionTakeoverAge {
			return nil, apperr.New(apperr.KindStateConflict, "a session for this attempt is still being created, retry shortly")
		}
		log.Warnf("[Checkout] Taking over abandoned attempt %s (no session after %s)", existing.AttemptID, time.Since(existing.UpdatedAt).Truncate(time.Second))
		attempt = &existing
	}

	if req.AffiliateCode != "" {
		affiliate, err := s.affiliates.ResolveCode(ctx, req.AffiliateCode)
		if err != nil {
			return nil, err
		}
		if affiliate != nil {
			if err := s.affiliates.Attribute(ctx, affiliate.ID, attempt.ID); err != nil {
				return nil, err
			}
			if err := s.db.WithContext(ctx).Model(&models.CheckoutAttempt{}).
				Where("id = ?", attempt.ID).Update("affiliate_code", affiliate.Code).Error; err != nil {
				return nil, err
			}
			attempt.AffiliateCode = affiliate.Code
		} else {
			// Unknown or disabled codes never fail checkout.
			log.Infof("[Checkout] Ignoring unknown affiliate code %s on attempt %s", req.AffiliateCode, attempt.AttemptID)
		}
	}

	var product models.Product
	if err := s.db.WithContext(ctx).First(&product, req.ProductID).Error; err != nil {
		return nil, err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		AmountCents:   attempt.AmountCents,
		Currency:      attempt.Currency,
		ProductName:   fmt.Sprintf("%s (%s)", product.Name, version.Name),
		CustomerEmail: attempt.CustomerEmail,
		Reference:     attempt.AttemptID,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "payment provider session creation failed", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.CheckoutAttempt{}).Where("id = ?", attempt.ID).Updates(map[string]interface{}{
		"provider_session_id": session.ID,
		"checkout_url":        session.URL,
		"status":              models.AttemptStatusRedirected,
	}).Error; err != nil {
		return nil, err
	}
	attempt.ProviderSessionID = session.ID
	attempt.CheckoutURL = session.URL
	attempt.Status = models.AttemptStatusRedirected

	log.Infof("[Checkout] Attempt %s redirected to session %s (%d %s)", attempt.AttemptID, session.ID, attempt.AmountCents, attempt.Currency)
	return &CreateSessionResult{Attempt: attempt, CheckoutURL: session.URL}, nil
}

// ExpireStale closes attempts that never completed. Run on a schedule by the
// job manager; a payment event arriving later still reconciles, expiry only
// keeps the operator view honest.
func (s *Service) ExpireStale(ctx context.Context) error {
	res := s.db.WithContext(ctx).Model(&models.CheckoutAttempt{}).
		Where("status IN ? AND created_at < ?",
			[]string{models.AttemptStatusCreated, models.AttemptStatusRedirected},
			time.Now().Add(-StaleAttemptAge)).
		Update("status", models.AttemptStatusExpired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Infof("[Checkout] Expired %d stale checkout attempts", res.RowsAffected)
	}
	return nil
}

// resolveAmount applies the version's pricing mode: fixed prices ignore the
// client amount, pay-what-you-want enforces the floor.
func resolveAmount(version *models.ProductVersion, requested int64) (int64, error) {
	switch version.PricingMode {
	case models.PricingModePWYW:
		if requested < version.MinPriceCents {
			return 0, apperr.Validationf("amount %d is below the minimum of %d", requested, version.MinPriceCents)
		}
		return requested, nil
	default:
		return version.PriceCents, nil
	}
}
