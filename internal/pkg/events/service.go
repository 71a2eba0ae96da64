package events

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/env"
	"github.com/MartinGrube/SoloStore/internal/pkg/jobqueue"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"
)

// Service is the event store plus reconciler: it turns the provider's
// at-least-once, unordered event stream into exactly-once order, entitlement
// and job-ledger mutations.
type Service struct {
	db     *gorm.DB
	ledger *jobqueue.Ledger

	// partialRefundKeepsEntitlements overrides the default policy of revoking
	// entitlements on partial refunds (single-item digital goods default to
	// revoke).
	partialRefundKeepsEntitlements bool
}

func NewService(db *gorm.DB, ledger *jobqueue.Ledger) *Service {
	return &Service{
		db:                             db,
		ledger:                         ledger,
		partialRefundKeepsEntitlements: env.GetBool("REFUND_PARTIAL_KEEPS_ENTITLEMENTS", false),
	}
}

// IngestResult describes what happened to one inbound delivery.
type IngestResult struct {
	Event     *models.InboundEvent
	Duplicate bool
}

// Ingest stores a provider webhook delivery and reconciles it. Duplicate
// event ids return the prior outcome without reprocessing. An invalid
// signature stores the event as failed and is never retried automatically.
// Transient reconciliation failures leave the event received, eligible for
// replay; replay is always safe because every reconciliation step is a pure
// function of stored state plus the payload.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, signatureHeader string) (*IngestResult, error) {
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")
	signatureValid := payments.VerifyWebhookSignature(rawBody, signatureHeader, secret, time.Now())

	parsed, parseErr := payments.ParseEvent(rawBody)
	if parseErr != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "unparseable event payload", parseErr)
	}

	event := &models.InboundEvent{
		ProviderEventID: parsed.ID,
		EventType:       parsed.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
		Status:          models.EventStatusReceived,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return nil, res.Error
	}

	var stored models.InboundEvent
	if err := s.db.WithContext(ctx).Where("provider_event_id = ?", parsed.ID).First(&stored).Error; err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		// Duplicate delivery: the stored row already carries the outcome.
		log.Infof("[Events] Duplicate delivery of event %s, returning prior outcome", parsed.ID)
		return &IngestResult{Event: &stored, Duplicate: true}, nil
	}

	if !signatureValid {
		s.markFailed(ctx, stored.ID, "invalid webhook signature")
		stored.Status = models.EventStatusFailed
		return &IngestResult{Event: &stored}, apperr.New(apperr.KindValidation, "invalid webhook signature")
	}

	if err := s.process(ctx, &stored, parsed); err != nil {
		return &IngestResult{Event: &stored}, err
	}
	return &IngestResult{Event: &stored}, nil
}

// Replay re-runs reconciliation for a stored event. Safe to invoke any number
// of times; already-applied mutations are recognized and skipped.
func (s *Service) Replay(ctx context.Context, eventID uint) error {
	var event models.InboundEvent
	if err := s.db.WithContext(ctx).First(&event, eventID).Error; err != nil {
		return err
	}
	if !event.SignatureValid {
		return apperr.New(apperr.KindValidation, "event failed signature verification and cannot be replayed")
	}

	parsed, err := payments.ParseEvent([]byte(event.PayloadJSON))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "stored payload is unparseable", err)
	}
	return s.process(ctx, &event, parsed)
}

// ReplaySweep retries events stuck in received state, e.g. a refund that
// arrived before its order. Run on a schedule by the job manager.
func (s *Service) ReplaySweep(ctx context.Context, olderThan time.Duration) error {
	var stuck []models.InboundEvent
	if err := s.db.WithContext(ctx).
		Where("status = ? AND signature_valid = ? AND created_at < ?",
			models.EventStatusReceived, true, time.Now().Add(-olderThan)).
		Limit(50).
		Find(&stuck).Error; err != nil {
		return err
	}

	for _, event := range stuck {
		if err := s.Replay(ctx, event.ID); err != nil {
			log.Warnf("[Events] Replay of event %s still failing: %v", event.ProviderEventID, err)
		}
	}
	return nil
}

// List returns stored events for the operator surface, newest first.
func (s *Service) List(ctx context.Context, status string, limit int) ([]models.InboundEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var events []models.InboundEvent
	err := q.Find(&events).Error
	return events, err
}

// process runs the type-specific reconciliation step inside one transaction
// that also marks the event processed, so the mutation and the processed mark
// commit together.
func (s *Service) process(ctx context.Context, event *models.InboundEvent, parsed *payments.Event) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.reconcile(tx, event, parsed); err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(&models.InboundEvent{}).Where("id = ?", event.ID).Updates(map[string]interface{}{
			"status":           models.EventStatusProcessed,
			"processed_at":     now,
			"processing_error": "",
		}).Error
	})
	if err == nil {
		return nil
	}

	switch apperr.KindOf(err) {
	case apperr.KindTerminal, apperr.KindValidation:
		log.Errorf("[Events] Event %s failed permanently: %v", event.ProviderEventID, err)
		s.markFailed(ctx, event.ID, err.Error())
	default:
		// Transient: leave the event received for replay.
		log.Warnf("[Events] Event %s left for replay: %v", event.ProviderEventID, err)
		s.recordError(ctx, event.ID, err.Error())
	}
	return err
}

func (s *Service) markFailed(ctx context.Context, eventID uint, msg string) {
	if err := s.db.WithContext(ctx).Model(&models.InboundEvent{}).Where("id = ?", eventID).Updates(map[string]interface{}{
		"status":           models.EventStatusFailed,
		"processing_error": msg,
	}).Error; err != nil {
		log.Errorf("[Events] Failed to mark event %d failed: %v", eventID, err)
	}
}

func (s *Service) recordError(ctx context.Context, eventID uint, msg string) {
	if err := s.db.WithContext(ctx).Model(&models.InboundEvent{}).Where("id = ?", eventID).
		Update("processing_error", msg).Error; err != nil {
		log.Errorf("[Events] Failed to record error on event %d: %v", eventID, err)
	}
}

var errOrderNotYetCreated = apperr.New(apperr.KindTransient, "refund arrived before its order; waiting for the paid event")
