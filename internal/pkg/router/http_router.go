package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/app/controllers"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

// InstallRouter registers the unauthenticated surface: health checks and the
// payment provider's webhook endpoint. The webhook route is deliberately
// outside the rate-limited API group; authenticity is enforced by signature,
// and throttling the provider only delays reconciliation.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}
