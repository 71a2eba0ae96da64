package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/events"
)

// SignatureHeader is the header the payment provider signs its deliveries
// with.
const SignatureHeader = "X-Payment-Signature"

var eventService *events.Service

func InitializeWebhookController(svc *events.Service) {
	eventService = svc
}

// HandlePaymentWebhook ingests one provider delivery. Responds 200 for
// anything durably handled (including duplicates), 400 for authenticity
// failures, and 5xx when processing should be retried by the provider.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "empty body"})
	}

	result, err := eventService.Ingest(c.Context(), body, c.Get(SignatureHeader))
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindTerminal:
			// Stored (where possible) as failed; retrying the same payload
			// cannot succeed, so tell the provider to stop.
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "rejected", "message": err.Error()})
		default:
			// Transient reconciliation failure after the event row was stored:
			// acknowledge the delivery, the replay sweep finishes the work. A
			// provider retry would only hit the duplicate no-op path anyway.
			if result != nil && result.Event != nil {
				log.Warnf("[Webhook] Event %s stored, reconciliation deferred to replay: %v", result.Event.ProviderEventID, err)
				return c.JSON(fiber.Map{"status": result.Event.Status, "duplicate": result.Duplicate})
			}
			log.Warnf("[Webhook] Event could not be stored: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "retry_later"})
		}
	}

	status := models.EventStatusProcessed
	if result.Event != nil {
		status = result.Event.Status
	}
	return c.JSON(fiber.Map{"status": status, "duplicate": result.Duplicate})
}
