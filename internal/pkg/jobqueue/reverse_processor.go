package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/licensing"
)

// ReverseProcessor tears down fulfillment after a refund or dispute: revokes
// the order's licenses and schedules the commission reversal. Entitlements are
// already revoked in the reconciliation transaction itself.
type ReverseProcessor struct {
	db       *gorm.DB
	licenses *licensing.Service
	ledger   *Ledger
}

func NewReverseProcessor(db *gorm.DB, licenses *licensing.Service, ledger *Ledger) *ReverseProcessor {
	return &ReverseProcessor{db: db, licenses: licenses, ledger: ledger}
}

func (p *ReverseProcessor) RegisterWith(m *Manager) {
	m.Register(JobTypeReverseOnRefund, p.Reverse)
}

func (p *ReverseProcessor) Reverse(ctx context.Context, job *ClaimedJob) error {
	var payload ReverseOnRefundPayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad reverse_on_refund payload", err)
	}

	var order models.Order
	if err := p.db.WithContext(ctx).First(&order, payload.OrderID).Error; err != nil {
		return apperr.Wrap(apperr.KindTerminal, fmt.Sprintf("order %d not found", payload.OrderID), err)
	}

	if err := p.licenses.RevokeByOrder(ctx, order.ID); err != nil {
		return err
	}

	if order.AffiliateCode != "" {
		if _, err := p.ledger.Enqueue(ctx, JobTypeComputeCommission, ComputeCommissionPayload{
			OrderID: order.ID,
			Op:      CommissionOpReverse,
		}, EnqueueOptions{IdempotencyKey: fmt.Sprintf("commission:reverse:order:%d", order.ID)}); err != nil {
			return err
		}
	}

	log.Infof("[Jobs] Reversed fulfillment for order %d (%s)", order.ID, order.Status)
	return nil
}
