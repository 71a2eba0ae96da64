package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/app/controllers"
	"github.com/MartinGrube/SoloStore/internal/pkg/middleware"
)

type AdminRouter struct {
}

func NewAdminRouter() *AdminRouter {
	return &AdminRouter{}
}

// InstallRouter registers the operator surface: job ledger, event store and
// outbound webhook subscription management. Everything behind the admin key.
func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := app.Group("/admin", middleware.AdminAPIKeyMiddleware)

	admin.Get("/jobs", controllers.HandleAdminListJobs)
	admin.Get("/jobs/stats", controllers.HandleAdminJobStats)
	admin.Post("/jobs/:id/retry", controllers.HandleAdminRetryJob)
	admin.Post("/jobs/:id/dead", controllers.HandleAdminMarkJobDead)

	admin.Get("/events", controllers.HandleAdminListEvents)
	admin.Post("/events/:id/replay", controllers.HandleAdminReplayEvent)

	admin.Get("/webhook-subscriptions", controllers.HandleAdminListSubscriptions)
	admin.Post("/webhook-subscriptions", controllers.HandleAdminCreateSubscription)
	admin.Put("/webhook-subscriptions/:id", controllers.HandleAdminUpdateSubscription)
	admin.Delete("/webhook-subscriptions/:id", controllers.HandleAdminDeleteSubscription)

	admin.Post("/payouts", controllers.HandleAdminTriggerPayout)
}
