package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/internal/pkg/affiliates"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
)

// AffiliateProcessor executes commission accrual, reversal and payout jobs on
// top of the affiliate ledger.
type AffiliateProcessor struct {
	affiliates *affiliates.Service
}

func NewAffiliateProcessor(svc *affiliates.Service) *AffiliateProcessor {
	return &AffiliateProcessor{affiliates: svc}
}

func (p *AffiliateProcessor) RegisterWith(m *Manager) {
	m.Register(JobTypeComputeCommission, p.Commission)
	m.Register(JobTypeAffiliatePayout, p.Payout)
}

func (p *AffiliateProcessor) Commission(ctx context.Context, job *ClaimedJob) error {
	var payload ComputeCommissionPayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad commission payload", err)
	}

	switch payload.Op {
	case CommissionOpReverse:
		return p.affiliates.ReverseCommission(ctx, payload.OrderID)
	case CommissionOpCompute, "":
		commission, err := p.affiliates.ComputeCommission(ctx, payload.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Wrap(apperr.KindTerminal, "order vanished before commission accrual", err)
			}
			return err
		}
		if commission != nil {
			log.Infof("[Jobs] Commission of %d cents accrued for order %d", commission.AmountCents, payload.OrderID)
		}
		return nil
	default:
		return apperr.New(apperr.KindTerminal, fmt.Sprintf("unknown commission op %q", payload.Op))
	}
}

func (p *AffiliateProcessor) Payout(ctx context.Context, job *ClaimedJob) error {
	var payload AffiliatePayoutPayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad payout payload", err)
	}

	if payload.AffiliateID == 0 {
		return p.affiliates.PayoutAll(ctx)
	}
	_, err := p.affiliates.PayoutAffiliate(ctx, payload.AffiliateID)
	return err
}

// MatureSweep promotes commissions past their holding period from pending to
// available. Registered as a manager sweep.
func (p *AffiliateProcessor) MatureSweep(ctx context.Context) error {
	return p.affiliates.MatureSweep(ctx)
}
