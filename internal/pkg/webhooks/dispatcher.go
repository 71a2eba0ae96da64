package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"
)

// SignatureHeader carries the HMAC-SHA256 signature of the delivery body,
// computed with the subscription's shared secret. Receivers are expected to
// dedupe on eventId.
const SignatureHeader = "X-SoloStore-Signature"

// attemptSchedule is the per-delivery retry schedule, independent of the
// generic job backoff. After the last slot the delivery is dead-lettered.
var attemptSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// strandedAfter is the delivering-state lease: a worker that crashed between
// claiming a delivery and finishing the attempt leaves the row in delivering,
// and the next due-scan reclaims it once the row has sat there this long.
const strandedAfter = 10 * time.Minute

// Payload is the outbound webhook body.
type Payload struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// Dispatcher fans events out to active subscriptions and works off due
// delivery attempts.
type Dispatcher struct {
	db         *gorm.DB
	httpClient *http.Client
}

func NewDispatcher(db *gorm.DB) *Dispatcher {
	return &Dispatcher{
		db: db,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fanout creates one pending delivery per active subscription matching the
// event type. The (subscription, event) unique index makes re-entrant fanout
// from a retried job a no-op.
func (d *Dispatcher) Fanout(ctx context.Context, eventID, eventType, dataJSON string) (int, error) {
	var subscriptions []models.WebhookSubscription
	if err := d.db.WithContext(ctx).Where("is_active = ?", true).Find(&subscriptions).Error; err != nil {
		return 0, err
	}

	body, err := json.Marshal(Payload{
		EventID:   eventID,
		EventType: eventType,
		Data:      json.RawMessage(dataJSON),
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, sub := range subscriptions {
		if !matchesEventType(sub.EventTypes, eventType) {
			continue
		}
		delivery := &models.WebhookDelivery{
			SubscriptionID: sub.ID,
			EventID:        eventID,
			EventType:      eventType,
			PayloadJSON:    string(body),
			Status:         models.DeliveryStatusPending,
			NextAttemptAt:  time.Now(),
		}
		res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).Create(delivery)
		if res.Error != nil {
			return created, res.Error
		}
		if res.RowsAffected > 0 {
			created++
		}
	}
	return created, nil
}

// RunDue claims and executes due delivery attempts. Safe to run from many
// workers; claims use the same skip-locked discipline as the job ledger.
func (d *Dispatcher) RunDue(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 20
	}

	var due []models.WebhookDelivery
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dueDeliveries(tx, time.Now()).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("next_attempt_at ASC").
			Limit(batchSize).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(due))
		for _, dl := range due {
			ids = append(ids, dl.ID)
		}
		return tx.Model(&models.WebhookDelivery{}).Where("id IN ?", ids).
			Update("status", models.DeliveryStatusDelivering).Error
	})
	if err != nil {
		return err
	}

	for i := range due {
		d.attempt(ctx, &due[i])
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, delivery *models.WebhookDelivery) {
	var sub models.WebhookSubscription
	if err := d.db.WithContext(ctx).First(&sub, delivery.SubscriptionID).Error; err != nil {
		log.Errorf("[Webhooks] Delivery %d: subscription %d lookup failed: %v", delivery.ID, delivery.SubscriptionID, err)
		d.finishAttempt(ctx, delivery, 0, fmt.Sprintf("subscription lookup failed: %v", err))
		return
	}

	statusCode, attemptErr := d.send(ctx, &sub, delivery)
	if attemptErr == nil {
		now := time.Now()
		if err := d.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
			Where("id = ?", delivery.ID).
			Updates(map[string]interface{}{
				"status":           models.DeliveryStatusSucceeded,
				"attempts":         delivery.Attempts + 1,
				"last_status_code": statusCode,
				"last_error":       "",
				"delivered_at":     now,
			}).Error; err != nil {
			log.Errorf("[Webhooks] Failed to mark delivery %d succeeded: %v", delivery.ID, err)
		}
		return
	}

	log.Warnf("[Webhooks] Delivery %d to %s failed (attempt %d): %v", delivery.ID, sub.URL, delivery.Attempts+1, attemptErr)
	d.finishAttempt(ctx, delivery, statusCode, attemptErr.Error())
}

func (d *Dispatcher) finishAttempt(ctx context.Context, delivery *models.WebhookDelivery, statusCode int, errMsg string) {
	attempts := delivery.Attempts + 1
	updates := map[string]interface{}{
		"attempts":         attempts,
		"last_status_code": statusCode,
		"last_error":       errMsg,
	}
	if attempts >= len(attemptSchedule)+1 {
		log.Errorf("[Webhooks] Delivery %d dead after %d attempts", delivery.ID, attempts)
		updates["status"] = models.DeliveryStatusDead
	} else {
		updates["status"] = models.DeliveryStatusPending
		updates["next_attempt_at"] = time.Now().Add(attemptSchedule[attempts-1])
	}
	if err := d.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", delivery.ID).Updates(updates).Error; err != nil {
		log.Errorf("[Webhooks] Failed to update delivery %d: %v", delivery.ID, err)
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *models.WebhookSubscription, delivery *models.WebhookDelivery) (int, error) {
	body := []byte(delivery.PayloadJSON)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, payments.SignPayload(body, sub.Secret, time.Now()))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// dueDeliveries selects deliveries a due-scan may claim: pending rows whose
// next attempt is due, plus delivering rows stranded by a crashed worker.
func dueDeliveries(tx *gorm.DB, now time.Time) *gorm.DB {
	return tx.Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND updated_at < ?)",
		models.DeliveryStatusPending, now,
		models.DeliveryStatusDelivering, now.Add(-strandedAfter))
}

// matchesEventType checks a comma-separated subscription filter; empty means
// all event types.
func matchesEventType(filter, eventType string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	for _, t := range strings.Split(filter, ",") {
		if strings.TrimSpace(t) == eventType {
			return true
		}
	}
	return false
}
