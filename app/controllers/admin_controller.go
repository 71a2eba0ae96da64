package controllers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/events"
	"github.com/MartinGrube/SoloStore/internal/pkg/jobqueue"
)

var (
	adminDB       *gorm.DB
	adminLedger   *jobqueue.Ledger
	adminEvents   *events.Service
	adminValidate = validator.New()
)

func InitializeAdminController(db *gorm.DB, ledger *jobqueue.Ledger, eventSvc *events.Service) {
	adminDB = db
	adminLedger = ledger
	adminEvents = eventSvc
}

// ---- job ledger ----

func HandleAdminListJobs(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	jobs, err := adminLedger.List(c.Context(), c.Query("status"), limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs, "count": len(jobs)})
}

func HandleAdminJobStats(c *fiber.Ctx) error {
	stats, err := adminLedger.Stats(c.Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(stats)
}

// HandleAdminRetryJob resets a dead job for another round of attempts.
func HandleAdminRetryJob(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid job id"})
	}
	if err := adminLedger.Retry(c.Context(), uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "job")
		}
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"status": "queued"})
}

func HandleAdminMarkJobDead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid job id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&body)
	if err := adminLedger.MarkDead(c.Context(), uint(id), body.Reason); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "job")
		}
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"status": "dead"})
}

// ---- event store ----

func HandleAdminListEvents(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	evts, err := adminEvents.List(c.Context(), c.Query("status"), limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"events": evts, "count": len(evts)})
}

// HandleAdminReplayEvent re-runs reconciliation for one stored event.
func HandleAdminReplayEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid event id"})
	}
	if err := adminEvents.Replay(c.Context(), uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "event")
		}
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"status": "processed"})
}

// ---- outbound webhook subscriptions ----

type subscriptionRequest struct {
	URL        string `json:"url" validate:"required,url,max=500"`
	Secret     string `json:"secret" validate:"required,min=16,max=128"`
	EventTypes string `json:"event_types" validate:"omitempty,max=500"`
	IsActive   *bool  `json:"is_active"`
}

func HandleAdminListSubscriptions(c *fiber.Ctx) error {
	var subs []models.WebhookSubscription
	if err := adminDB.WithContext(c.Context()).Order("id").Find(&subs).Error; err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

func HandleAdminCreateSubscription(c *fiber.Ctx) error {
	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := adminValidate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	sub := models.WebhookSubscription{
		CreatorID:  1, // single-creator store
		URL:        req.URL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		IsActive:   true,
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if err := adminDB.WithContext(c.Context()).Create(&sub).Error; err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func HandleAdminUpdateSubscription(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid subscription id"})
	}

	var sub models.WebhookSubscription
	if err := adminDB.WithContext(c.Context()).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "subscription")
		}
		return errorResponse(c, err)
	}

	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if req.URL != "" {
		sub.URL = req.URL
	}
	if req.Secret != "" {
		sub.Secret = req.Secret
	}
	sub.EventTypes = req.EventTypes
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if err := adminDB.WithContext(c.Context()).Save(&sub).Error; err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sub)
}

func HandleAdminDeleteSubscription(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid subscription id"})
	}
	res := adminDB.WithContext(c.Context()).Delete(&models.WebhookSubscription{}, id)
	if res.Error != nil {
		return errorResponse(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(c, "subscription")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ---- affiliate payouts ----

// HandleAdminTriggerPayout enqueues a payout run, for one affiliate or for
// everyone with available commissions. The job is deduplicated per day so a
// double-click cannot start two runs.
func HandleAdminTriggerPayout(c *fiber.Ctx) error {
	var body struct {
		AffiliateID uint `json:"affiliate_id"`
	}
	_ = c.BodyParser(&body)

	key := fmt.Sprintf("payout:affiliate:%d:%s", body.AffiliateID, c.Context().Time().Format("2006-01-02"))
	job, err := adminLedger.Enqueue(c.Context(), jobqueue.JobTypeAffiliatePayout, jobqueue.AffiliatePayoutPayload{
		AffiliateID: body.AffiliateID,
	}, jobqueue.EnqueueOptions{IdempotencyKey: key})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID, "status": job.Status})
}
