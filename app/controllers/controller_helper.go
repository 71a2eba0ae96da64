package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
)

// errorResponse maps the error taxonomy onto HTTP statuses. Transient
// failures return 503 so well-behaved callers (and the payment provider)
// retry; everything else is final.
func errorResponse(c *fiber.Ctx, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	case apperr.KindStateConflict, apperr.KindRaceLoss:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case apperr.KindTerminal:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unprocessable", "message": err.Error()})
	case apperr.KindIdempotent:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "already_processed"})
	default:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily_unavailable", "message": "please retry"})
	}
}

func notFound(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": what + " not found"})
}
