package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/jobqueue"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"
)

const testWebhookSecret = "whsec_test"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "events.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.ProductVersion{},
		&models.InboundEvent{},
		&models.CheckoutAttempt{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderRefund{},
		&models.Entitlement{},
		&models.Discount{},
		&models.DiscountRedemption{},
		&models.Job{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	t.Setenv("PAYMENT_WEBHOOK_SECRET", testWebhookSecret)
	return NewService(db, jobqueue.NewLedger(db))
}

func signedEvent(t *testing.T, id, eventType string, data map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": data,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body, payments.SignPayload(body, testWebhookSecret, time.Now())
}

func seedCheckout(t *testing.T, db *gorm.DB, attempt *models.CheckoutAttempt) {
	t.Helper()
	product := &models.Product{CreatorID: 1, Slug: "toolkit", Name: "Toolkit"}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	version := &models.ProductVersion{
		ProductID:  product.ID,
		Slug:       "v1",
		Name:       "v1.0",
		PriceCents: 1000,
		Currency:   "usd",
	}
	if err := db.Create(version).Error; err != nil {
		t.Fatalf("seed version: %v", err)
	}
	attempt.ProductID = product.ID
	attempt.VersionID = version.ID
	if err := db.Create(attempt).Error; err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
}

func TestIngestDuplicateDeliveryDoesNotReprocess(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	attempt := &models.CheckoutAttempt{
		AttemptID:       "attempt-dup-1",
		ListAmountCents: 1000,
		AmountCents:     1000,
		Currency:        "usd",
		CustomerEmail:   "buyer@example.com",
		Status:          models.AttemptStatusRedirected,
	}
	seedCheckout(t, db, attempt)

	body, sig := signedEvent(t, "evt_dup_1", payments.EventCheckoutCompleted, map[string]interface{}{
		"session_id":          "sess_dup_1",
		"payment_id":          "pay_dup_1",
		"client_reference_id": attempt.AttemptID,
		"amount_cents":        1000,
		"customer_email":      "buyer@example.com",
	})

	first, err := svc.Ingest(ctx, body, sig)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first delivery flagged duplicate")
	}

	second, err := svc.Ingest(ctx, body, sig)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("redelivery not flagged duplicate")
	}

	var orderCount int64
	if err := db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 1 {
		t.Fatalf("orders = %d, want 1", orderCount)
	}

	var receiptJobs int64
	if err := db.Model(&models.Job{}).Where("type = ?", jobqueue.JobTypeSendReceiptEmail).Count(&receiptJobs).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if receiptJobs != 1 {
		t.Fatalf("receipt jobs = %d, want 1", receiptJobs)
	}
}

func TestInvalidSignatureStoredFailed(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	body, _ := signedEvent(t, "evt_badsig", payments.EventCheckoutCompleted, map[string]interface{}{
		"session_id": "sess_x",
		"payment_id": "pay_x",
	})

	result, err := svc.Ingest(context.Background(), body, "t=1,v1=deadbeef")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if result == nil || result.Event == nil {
		t.Fatalf("event not stored on signature failure")
	}

	var stored models.InboundEvent
	if err := db.Where("provider_event_id = ?", "evt_badsig").First(&stored).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if stored.Status != models.EventStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if err := svc.Replay(context.Background(), stored.ID); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("replay of unsigned event should be rejected, got %v", err)
	}
}

// A partial refund applied through a duplicate delivery, an operator replay,
// or both must increment refunded_cents exactly once.
func TestPartialRefundAppliesOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	order := &models.Order{
		UserID:            1,
		AttemptID:         1,
		ProviderSessionID: "sess_pr_1",
		ProviderPaymentID: "pay_pr_1",
		Status:            models.OrderStatusPaid,
		SubtotalCents:     1000,
		TotalCents:        1000,
		Currency:          "usd",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	body, sig := signedEvent(t, "evt_pr_1", payments.EventChargeRefunded, map[string]interface{}{
		"payment_id":     "pay_pr_1",
		"refunded_cents": 400,
	})

	result, err := svc.Ingest(ctx, body, sig)
	if err != nil {
		t.Fatalf("ingest refund: %v", err)
	}

	assertRefundState := func(stage string) {
		t.Helper()
		var got models.Order
		if err := db.First(&got, order.ID).Error; err != nil {
			t.Fatalf("%s: load order: %v", stage, err)
		}
		if got.Status != models.OrderStatusPartiallyRefunded {
			t.Fatalf("%s: status = %s, want partially_refunded", stage, got.Status)
		}
		if got.RefundedCents != 400 {
			t.Fatalf("%s: refunded_cents = %d, want 400", stage, got.RefundedCents)
		}
		var applications int64
		if err := db.Model(&models.OrderRefund{}).Where("order_id = ?", order.ID).Count(&applications).Error; err != nil {
			t.Fatalf("%s: count applications: %v", stage, err)
		}
		if applications != 1 {
			t.Fatalf("%s: refund applications = %d, want 1", stage, applications)
		}
	}
	assertRefundState("after first ingest")

	if err := svc.Replay(ctx, result.Event.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	assertRefundState("after replay")

	if _, err := svc.Ingest(ctx, body, sig); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	assertRefundState("after redelivery")
}

// A second partial refund is a distinct provider event and must accumulate on
// top of the first one.
func TestSecondPartialRefundAccumulates(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	order := &models.Order{
		UserID:            1,
		AttemptID:         2,
		ProviderSessionID: "sess_pr_2",
		ProviderPaymentID: "pay_pr_2",
		Status:            models.OrderStatusPaid,
		TotalCents:        1000,
		Currency:          "usd",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	refunds := []struct {
		eventID string
		cents   int
	}{
		{"evt_pr_2a", 300},
		{"evt_pr_2b", 200},
	}
	for _, r := range refunds {
		body, sig := signedEvent(t, r.eventID, payments.EventChargeRefunded, map[string]interface{}{
			"payment_id":     "pay_pr_2",
			"refunded_cents": r.cents,
		})
		if _, err := svc.Ingest(ctx, body, sig); err != nil {
			t.Fatalf("ingest %s: %v", r.eventID, err)
		}
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if got.RefundedCents != 500 {
		t.Fatalf("refunded_cents = %d, want 500", got.RefundedCents)
	}
	if got.Status != models.OrderStatusPartiallyRefunded {
		t.Fatalf("status = %s, want partially_refunded", got.Status)
	}
}

// The order books the pre-discount base as subtotal and the checkout delta as
// the discount; the redemption row carries the same delta.
func TestCheckoutWithDiscountBooksDelta(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	attempt := &models.CheckoutAttempt{
		AttemptID:       "attempt-disc-1",
		ListAmountCents: 1000,
		AmountCents:     800,
		Currency:        "usd",
		DiscountCode:    "SAVE20",
		CustomerEmail:   "buyer@example.com",
		Status:          models.AttemptStatusRedirected,
	}
	seedCheckout(t, db, attempt)

	discount := &models.Discount{
		ProductID:      attempt.ProductID,
		Code:           "SAVE20",
		Type:           models.DiscountTypePercent,
		Value:          20,
		Status:         models.DiscountStatusActive,
		MaxRedemptions: 5,
	}
	if err := db.Create(discount).Error; err != nil {
		t.Fatalf("seed discount: %v", err)
	}

	body, sig := signedEvent(t, "evt_disc_1", payments.EventCheckoutCompleted, map[string]interface{}{
		"session_id":          "sess_disc_1",
		"payment_id":          "pay_disc_1",
		"client_reference_id": attempt.AttemptID,
		"amount_cents":        800,
		"customer_email":      "buyer@example.com",
	})
	if _, err := svc.Ingest(ctx, body, sig); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var order models.Order
	if err := db.Where("provider_payment_id = ?", "pay_disc_1").First(&order).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.SubtotalCents != 1000 {
		t.Fatalf("subtotal_cents = %d, want 1000", order.SubtotalCents)
	}
	if order.DiscountCents != 200 {
		t.Fatalf("discount_cents = %d, want 200", order.DiscountCents)
	}
	if order.TotalCents != 800 {
		t.Fatalf("total_cents = %d, want 800", order.TotalCents)
	}

	var redemption models.DiscountRedemption
	if err := db.Where("discount_id = ? AND order_id = ?", discount.ID, order.ID).First(&redemption).Error; err != nil {
		t.Fatalf("load redemption: %v", err)
	}
	if redemption.AmountCents != 200 {
		t.Fatalf("redemption amount_cents = %d, want 200", redemption.AmountCents)
	}

	var reloaded models.Discount
	if err := db.First(&reloaded, discount.ID).Error; err != nil {
		t.Fatalf("load discount: %v", err)
	}
	if reloaded.RedeemedCount != 1 {
		t.Fatalf("redeemed_count = %d, want 1", reloaded.RedeemedCount)
	}
}

// A refund that outruns its paid event is stored and left received; once the
// order exists a replay completes the reconciliation.
func TestRefundBeforeOrderIsStoredForReplay(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	body, sig := signedEvent(t, "evt_early_1", payments.EventChargeRefunded, map[string]interface{}{
		"payment_id": "pay_early_1",
	})

	result, err := svc.Ingest(ctx, body, sig)
	if err == nil {
		t.Fatalf("expected transient error for refund without order")
	}
	if apperr.KindOf(err) != apperr.KindTransient {
		t.Fatalf("kind = %s, want transient", apperr.KindOf(err))
	}
	if result == nil || result.Event == nil {
		t.Fatalf("transiently-failed event must still be handed back as stored")
	}

	var stored models.InboundEvent
	if err := db.First(&stored, result.Event.ID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if stored.Status != models.EventStatusReceived {
		t.Fatalf("status = %s, want received", stored.Status)
	}

	order := &models.Order{
		UserID:            1,
		AttemptID:         3,
		ProviderSessionID: "sess_early_1",
		ProviderPaymentID: "pay_early_1",
		Status:            models.OrderStatusPaid,
		TotalCents:        1500,
		Currency:          "usd",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	if err := svc.Replay(ctx, stored.ID); err != nil {
		t.Fatalf("replay after order exists: %v", err)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if got.Status != models.OrderStatusRefunded || got.RefundedCents != 1500 {
		t.Fatalf("order = %s/%d, want refunded/1500", got.Status, got.RefundedCents)
	}
	if err := db.First(&stored, stored.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if stored.Status != models.EventStatusProcessed {
		t.Fatalf("event status = %s, want processed", stored.Status)
	}
}

func TestFullRefundRevokesEntitlementsAndEnqueuesReversal(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	order := &models.Order{
		UserID:            7,
		AttemptID:         4,
		ProviderSessionID: "sess_rev_1",
		ProviderPaymentID: "pay_rev_1",
		Status:            models.OrderStatusPaid,
		TotalCents:        2500,
		Currency:          "usd",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	entitlement := &models.Entitlement{
		UserID:    7,
		OrderID:   order.ID,
		VersionID: 1,
		Status:    models.EntitlementStatusActive,
	}
	if err := db.Create(entitlement).Error; err != nil {
		t.Fatalf("seed entitlement: %v", err)
	}

	body, sig := signedEvent(t, "evt_rev_1", payments.EventChargeRefunded, map[string]interface{}{
		"payment_id": "pay_rev_1",
	})
	if _, err := svc.Ingest(ctx, body, sig); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if got.Status != models.OrderStatusRefunded || got.RefundedCents != 2500 {
		t.Fatalf("order = %s/%d, want refunded/2500", got.Status, got.RefundedCents)
	}

	var gotEnt models.Entitlement
	if err := db.First(&gotEnt, entitlement.ID).Error; err != nil {
		t.Fatalf("load entitlement: %v", err)
	}
	if gotEnt.Status != models.EntitlementStatusRevoked || gotEnt.RevokedAt == nil {
		t.Fatalf("entitlement = %s (revoked_at %v), want revoked with timestamp", gotEnt.Status, gotEnt.RevokedAt)
	}

	var reverseJobs int64
	if err := db.Model(&models.Job{}).
		Where("type = ? AND status = ?", jobqueue.JobTypeReverseOnRefund, models.JobStatusQueued).
		Count(&reverseJobs).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if reverseJobs != 1 {
		t.Fatalf("reverse jobs = %d, want 1", reverseJobs)
	}

	var fanoutJobs int64
	if err := db.Model(&models.Job{}).Where("type = ?", jobqueue.JobTypeDeliverWebhooks).Count(&fanoutJobs).Error; err != nil {
		t.Fatalf("count fanout jobs: %v", err)
	}
	if fanoutJobs != 1 {
		t.Fatalf("fanout jobs = %d, want 1", fanoutJobs)
	}
}
