package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/internal/pkg/env"
)

// AdminAPIKeyMiddleware guards the operator surface with a static key from
// ADMIN_API_KEY. With no key configured the surface is disabled entirely.
func AdminAPIKeyMiddleware(c *fiber.Ctx) error {
	configured := env.GetEnv("ADMIN_API_KEY", "")
	if configured == "" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "admin API is not enabled"})
	}

	provided := c.Get("X-Admin-Key")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "missing or invalid admin key"})
	}
	return c.Next()
}
