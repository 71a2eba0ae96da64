package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/discounts"
	"github.com/MartinGrube/SoloStore/internal/pkg/jobqueue"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"
)

// reconcile applies one event's state transition inside the caller's
// transaction. Every branch must be idempotent: the same event may be
// reconciled again on duplicate delivery with a crashed first attempt, or via
// operator replay.
func (s *Service) reconcile(tx *gorm.DB, event *models.InboundEvent, parsed *payments.Event) error {
	switch parsed.Type {
	case payments.EventCheckoutCompleted:
		return s.reconcileCheckoutCompleted(tx, parsed)
	case payments.EventChargeRefunded:
		return s.reconcileRefund(tx, parsed, false)
	case payments.EventChargeDisputed:
		return s.reconcileRefund(tx, parsed, true)
	default:
		// Unknown types are stored and acknowledged without side effects.
		log.Infof("[Events] Ignoring event %s of unhandled type %s", parsed.ID, parsed.Type)
		return nil
	}
}

// reconcileCheckoutCompleted creates the order, its items and entitlements,
// consumes the discount redemption and enqueues all fulfillment jobs. The
// unique index on provider payment id makes a concurrently-created order
// detectable, in which case this delivery is a no-op.
func (s *Service) reconcileCheckoutCompleted(tx *gorm.DB, parsed *payments.Event) error {
	data := parsed.Data
	if data.PaymentID == "" || data.SessionID == "" {
		return apperr.Validationf("checkout.completed event %s is missing payment/session id", parsed.ID)
	}

	var existing models.Order
	err := tx.Where("provider_payment_id = ?", data.PaymentID).First(&existing).Error
	if err == nil {
		log.Infof("[Events] Order %d already exists for payment %s", existing.ID, data.PaymentID)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	attempt, err := s.findAttempt(tx, data)
	if err != nil {
		return err
	}

	var version models.ProductVersion
	if err := tx.First(&version, attempt.VersionID).Error; err != nil {
		return apperr.Wrap(apperr.KindTerminal, fmt.Sprintf("version %d of attempt %s no longer exists", attempt.VersionID, attempt.AttemptID), err)
	}

	email := data.CustomerEmail
	if email == "" {
		email = attempt.CustomerEmail
	}
	if email == "" {
		return apperr.Validationf("checkout.completed event %s carries no customer email", parsed.ID)
	}
	user, err := models.FindOrCreateCustomerByEmail(tx, email)
	if err != nil {
		return err
	}

	// Older attempts predate the list-amount column; their charged amount is
	// the best available base.
	baseCents := attempt.ListAmountCents
	if baseCents == 0 {
		baseCents = attempt.AmountCents
	}

	order := &models.Order{
		UserID:            user.ID,
		AttemptID:         attempt.ID,
		ProviderSessionID: data.SessionID,
		ProviderPaymentID: data.PaymentID,
		Status:            models.OrderStatusPaid,
		SubtotalCents:     baseCents,
		TotalCents:        data.AmountCents,
		Currency:          attempt.Currency,
		CustomerEmail:     user.Email,
		DiscountCode:      attempt.DiscountCode,
		AffiliateCode:     attempt.AffiliateCode,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_payment_id"}},
		DoNothing: true,
	}).Create(order)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Infof("[Events] Lost order-creation race for payment %s, nothing to do", data.PaymentID)
		return nil
	}

	item := &models.OrderItem{
		OrderID:        order.ID,
		ProductID:      attempt.ProductID,
		VersionID:      attempt.VersionID,
		UnitPriceCents: data.AmountCents,
		Quantity:       1,
	}
	if err := tx.Create(item).Error; err != nil {
		return err
	}

	entitlement := &models.Entitlement{
		UserID:    user.ID,
		OrderID:   order.ID,
		VersionID: attempt.VersionID,
		Status:    models.EntitlementStatusActive,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "order_id"}, {Name: "version_id"}},
		DoNothing: true,
	}).Create(entitlement).Error; err != nil {
		return err
	}

	if err := tx.Model(&models.CheckoutAttempt{}).Where("id = ?", attempt.ID).
		Update("status", models.AttemptStatusCompleted).Error; err != nil {
		return err
	}

	if attempt.DiscountCode != "" {
		// The discount was already applied once at checkout; the delta between
		// the pre-discount base and the charged amount is what gets booked.
		discountCents := baseCents - data.AmountCents
		if discountCents < 0 {
			discountCents = 0
		}
		guard := discounts.NewGuard(tx)
		_, err := guard.Redeem(tx.Statement.Context, tx, attempt.DiscountCode, attempt.ProductID, attempt.VersionID, order.ID, discountCents)
		if err != nil {
			if apperr.IsKind(err, apperr.KindRaceLoss) || apperr.IsKind(err, apperr.KindValidation) {
				// The code sold out (or expired) between checkout and payment.
				// The charge already happened, so the order proceeds without
				// recording a redemption; operators see the anomaly in logs.
				log.Warnf("[Events] Order %d paid with discount %s that can no longer be redeemed: %v", order.ID, attempt.DiscountCode, err)
			} else {
				return err
			}
		} else {
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
				Update("discount_cents", discountCents).Error; err != nil {
				return err
			}
		}
	}

	return s.enqueueFulfillment(tx, parsed, order, attempt, &version, user)
}

// enqueueFulfillment writes every side-effect job in the order's transaction,
// each deduplicated by an idempotency key derived from the order.
func (s *Service) enqueueFulfillment(tx *gorm.DB, parsed *payments.Event, order *models.Order, attempt *models.CheckoutAttempt, version *models.ProductVersion, user *models.User) error {
	if _, err := s.ledger.EnqueueTx(tx, jobqueue.JobTypeSendReceiptEmail, jobqueue.SendReceiptEmailPayload{
		OrderID: order.ID,
		Email:   user.Email,
	}, jobqueue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("receipt:order:%d", order.ID)}); err != nil {
		return err
	}

	if version.LicensingEnabled {
		if _, err := s.ledger.EnqueueTx(tx, jobqueue.JobTypeIssueLicense, jobqueue.IssueLicensePayload{
			OrderID:   order.ID,
			VersionID: version.ID,
			UserID:    user.ID,
		}, jobqueue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("license:order:%d:version:%d", order.ID, version.ID)}); err != nil {
			return err
		}
	}

	if version.GitHubRepo != "" {
		if _, err := s.ledger.EnqueueTx(tx, jobqueue.JobTypeGitHubInvite, jobqueue.GitHubInvitePayload{
			OrderID:   order.ID,
			VersionID: version.ID,
			Email:     user.Email,
			Repo:      version.GitHubRepo,
		}, jobqueue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("invite:order:%d:version:%d", order.ID, version.ID)}); err != nil {
			return err
		}
	}

	if attempt.AffiliateCode != "" {
		if _, err := s.ledger.EnqueueTx(tx, jobqueue.JobTypeComputeCommission, jobqueue.ComputeCommissionPayload{
			OrderID: order.ID,
			Op:      jobqueue.CommissionOpCompute,
		}, jobqueue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("commission:compute:order:%d", order.ID)}); err != nil {
			return err
		}
	}

	return s.enqueueOutboundWebhooks(tx, parsed, "order.paid", order)
}

// reconcileRefund flips the order to its refunded/disputed state and revokes
// entitlements in the same transaction. A refund that outruns its paid event
// is a transient failure and the event stays received for replay.
func (s *Service) reconcileRefund(tx *gorm.DB, parsed *payments.Event, dispute bool) error {
	data := parsed.Data
	if data.PaymentID == "" {
		return apperr.Validationf("event %s is missing the payment id", parsed.ID)
	}

	var order models.Order
	err := tx.Where("provider_payment_id = ?", data.PaymentID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errOrderNotYetCreated
		}
		return err
	}

	if order.IsTerminalRevokedState() {
		log.Infof("[Events] Order %d already in state %s, refund event %s is a no-op", order.ID, order.Status, parsed.ID)
		return nil
	}

	newStatus := models.OrderStatusRefunded
	refundedCents := data.RefundedCents
	partial := false
	switch {
	case dispute:
		newStatus = models.OrderStatusDisputed
		if refundedCents == 0 {
			refundedCents = order.TotalCents
		}
	case refundedCents > 0 && refundedCents < order.TotalCents:
		newStatus = models.OrderStatusPartiallyRefunded
		partial = true
	default:
		refundedCents = order.TotalCents
	}

	// One application row per provider event id. A redelivered or replayed
	// refund must not add to refunded_cents a second time.
	applied := &models.OrderRefund{
		OrderID:         order.ID,
		ProviderEventID: parsed.ID,
		AmountCents:     refundedCents,
		Dispute:         dispute,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(applied)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Infof("[Events] Refund event %s already applied to order %d, nothing to do", parsed.ID, order.ID)
		return nil
	}

	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"status":         newStatus,
		"refunded_cents": gorm.Expr("refunded_cents + ?", refundedCents),
	}).Error; err != nil {
		return err
	}

	revoke := !partial || !s.partialRefundKeepsEntitlements
	if revoke {
		now := time.Now()
		if err := tx.Model(&models.Entitlement{}).
			Where("order_id = ? AND status = ?", order.ID, models.EntitlementStatusActive).
			Updates(map[string]interface{}{
				"status":     models.EntitlementStatusRevoked,
				"revoked_at": now,
			}).Error; err != nil {
			return err
		}

		if _, err := s.ledger.EnqueueTx(tx, jobqueue.JobTypeReverseOnRefund, jobqueue.ReverseOnRefundPayload{
			OrderID: order.ID,
		}, jobqueue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("reverse:order:%d", order.ID)}); err != nil {
			return err
		}
	}

	outboundType := "order.refunded"
	if dispute {
		outboundType = "order.disputed"
	}
	return s.enqueueOutboundWebhooks(tx, parsed, outboundType, &order)
}

// enqueueOutboundWebhooks schedules the fanout job, keyed by the provider
// event id so a replayed event never double-notifies subscribers.
func (s *Service) enqueueOutboundWebhooks(tx *gorm.DB, parsed *payments.Event, outboundType string, order *models.Order) error {
	payload := fmt.Sprintf(`{"order_id":%d,"status":%q,"total_cents":%d,"refunded_cents":%d,"currency":%q}`,
		order.ID, orderStatusAfter(outboundType, order), order.TotalCents, order.RefundedCents, order.Currency)
	_, err := s.ledger.EnqueueTx(tx, jobqueue.JobTypeDeliverWebhooks, jobqueue.DeliverWebhooksPayload{
		EventID:   parsed.ID,
		EventType: outboundType,
		DataJSON:  payload,
	}, jobqueue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("webhooks:event:%s", parsed.ID)})
	return err
}

func orderStatusAfter(outboundType string, order *models.Order) string {
	switch outboundType {
	case "order.paid":
		return models.OrderStatusPaid
	case "order.disputed":
		return models.OrderStatusDisputed
	default:
		if order.RefundedCents > 0 && order.RefundedCents < order.TotalCents {
			return models.OrderStatusPartiallyRefunded
		}
		return models.OrderStatusRefunded
	}
}

// findAttempt resolves the checkout attempt behind a paid session, preferring
// the stored provider session id and falling back to the client reference the
// checkout flow embedded at session creation.
func (s *Service) findAttempt(tx *gorm.DB, data payments.EventData) (*models.CheckoutAttempt, error) {
	var attempt models.CheckoutAttempt
	err := tx.Where("provider_session_id = ?", data.SessionID).First(&attempt).Error
	if err == nil {
		return &attempt, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if data.ClientReferenceID != "" {
		err = tx.Where("attempt_id = ?", data.ClientReferenceID).First(&attempt).Error
		if err == nil {
			return &attempt, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	// The session may have been created on another node whose attempt write is
	// not visible yet; retry via replay rather than failing permanently.
	return nil, apperr.New(apperr.KindTransient, fmt.Sprintf("no checkout attempt found for session %s", data.SessionID))
}
