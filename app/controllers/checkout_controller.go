package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/internal/pkg/checkout"
)

var checkoutService *checkout.Service

func InitializeCheckoutController(svc *checkout.Service) {
	checkoutService = svc
}

// HandleCreateCheckoutSession starts (or returns the already-started) checkout
// for an attempt id. Clients retrying on timeouts land on the same session.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req checkout.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}

	result, err := checkoutService.CreateSession(c.Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"attempt_id":   result.Attempt.AttemptID,
		"session_id":   result.Attempt.ProviderSessionID,
		"checkout_url": result.CheckoutURL,
		"amount_cents": result.Attempt.AmountCents,
		"currency":     result.Attempt.Currency,
		"status":       result.Attempt.Status,
	})
}
