package affiliates

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/env"
)

// Service maintains the affiliate commission ledger: last-click attribution,
// accrual with a holding period, reversal on refund, and payout batching.
type Service struct {
	repo Repository

	holdingPeriod time.Duration
	// maxCommissionCents caps a single commission; 0 means uncapped.
	maxCommissionCents int64
}

func NewService(repo Repository) *Service {
	holdDays := 14
	if v, err := strconv.Atoi(env.GetEnv("AFFILIATE_HOLD_DAYS", "14")); err == nil && v >= 0 {
		holdDays = v
	}
	var capCents int64
	if v, err := strconv.ParseInt(env.GetEnv("AFFILIATE_MAX_COMMISSION_CENTS", "0"), 10, 64); err == nil && v > 0 {
		capCents = v
	}
	return &Service{
		repo:               repo,
		holdingPeriod:      time.Duration(holdDays) * 24 * time.Hour,
		maxCommissionCents: capCents,
	}
}

func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// ResolveCode returns the active affiliate for a referral code, or nil when
// the code is unknown or disabled (an invalid ref never blocks a checkout).
func (s *Service) ResolveCode(ctx context.Context, code string) (*models.Affiliate, error) {
	normalized := strings.TrimSpace(code)
	if normalized == "" {
		return nil, nil
	}
	affiliate, err := s.repo.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if affiliate.Status != models.AffiliateStatusActive {
		return nil, nil
	}
	return affiliate, nil
}

// Attribute records the last-click referral for a checkout attempt.
func (s *Service) Attribute(ctx context.Context, affiliateID, attemptID uint) error {
	if affiliateID == 0 || attemptID == 0 {
		return apperr.Validationf("affiliate_id and attempt_id are required")
	}
	return s.repo.UpsertAttribution(ctx, &models.AffiliateAttribution{
		AffiliateID: affiliateID,
		AttemptID:   attemptID,
	})
}

// ComputeCommission accrues the commission for a paid order: order total x
// affiliate payout percent, capped by policy. Idempotent on (affiliate,
// order); the holding period delays payout eligibility.
func (s *Service) ComputeCommission(ctx context.Context, orderID uint) (*models.AffiliateCommission, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AffiliateCode == "" {
		return nil, nil
	}

	affiliate, err := s.ResolveCode(ctx, order.AffiliateCode)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		log.Warnf("[Affiliates] Order %d references unknown affiliate code %q, skipping commission", orderID, order.AffiliateCode)
		return nil, nil
	}

	amount := CommissionAmount(order.TotalCents, affiliate.PayoutPercent, s.maxCommissionCents)
	if amount <= 0 {
		return nil, nil
	}

	commission := &models.AffiliateCommission{
		AffiliateID: affiliate.ID,
		OrderID:     order.ID,
		AmountCents: amount,
		Currency:    order.Currency,
		Status:      models.CommissionStatusPending,
		AvailableAt: time.Now().Add(s.holdingPeriod),
	}
	created, stored, err := s.repo.CreateCommissionIfNotExists(ctx, commission)
	if err != nil {
		return nil, err
	}
	if created {
		log.Infof("[Affiliates] Commission of %d cents accrued for affiliate %d (order %d)", amount, affiliate.ID, order.ID)
	}
	return stored, nil
}

// ReverseCommission reverses the commission of a refunded order. Pending and
// available commissions flip to reversed; an already-paid commission stays
// paid and is surfaced as an operator-visible anomaly.
func (s *Service) ReverseCommission(ctx context.Context, orderID uint) error {
	commission, err := s.repo.GetCommissionByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	switch commission.Status {
	case models.CommissionStatusReversed:
		return nil
	case models.CommissionStatusPaid:
		log.Errorf("[Affiliates] Commission %d for refunded order %d was already paid out", commission.ID, orderID)
		return nil
	}

	affected, err := s.repo.ReverseCommission(ctx, commission.ID, time.Now())
	if err != nil {
		return err
	}
	if affected > 0 {
		log.Infof("[Affiliates] Reversed commission %d (order %d)", commission.ID, orderID)
	}
	return nil
}

// MatureSweep promotes pending commissions whose holding period has elapsed.
func (s *Service) MatureSweep(ctx context.Context) error {
	matured, err := s.repo.MatureCommissions(ctx, time.Now())
	if err != nil {
		return err
	}
	if matured > 0 {
		log.Infof("[Affiliates] Matured %d commissions to available", matured)
	}
	return nil
}

// PayoutAffiliate batches all available commissions of one affiliate into a
// single payout record.
func (s *Service) PayoutAffiliate(ctx context.Context, affiliateID uint) (*models.AffiliatePayout, error) {
	payout, err := s.repo.PayoutBatch(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if payout != nil {
		log.Infof("[Affiliates] Payout %d created for affiliate %d: %d cents (%d commissions)",
			payout.ID, affiliateID, payout.AmountCents, payout.CommissionCount)
	}
	return payout, nil
}

// PayoutAll runs payout batching for every affiliate that has available
// commissions.
func (s *Service) PayoutAll(ctx context.Context) error {
	ids, err := s.repo.AffiliatesWithAvailableCommissions(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.PayoutAffiliate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CommissionAmount computes order total x payout percent, capped. Percent is
// clamped to [0, 100].
func CommissionAmount(totalCents int64, payoutPercent int, capCents int64) int64 {
	if payoutPercent <= 0 || totalCents <= 0 {
		return 0
	}
	if payoutPercent > 100 {
		payoutPercent = 100
	}
	amount := totalCents * int64(payoutPercent) / 100
	if capCents > 0 && amount > capCents {
		return capCents
	}
	return amount
}
