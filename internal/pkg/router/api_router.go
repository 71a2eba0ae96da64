package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/app/controllers"
	"github.com/MartinGrube/SoloStore/internal/pkg/ratelimit"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", ratelimit.Public())

	v1 := api.Group("/v1")
	v1.Post("/checkout/sessions", ratelimit.Checkout(), controllers.HandleCreateCheckoutSession)
	v1.Post("/licenses/activate", controllers.HandleActivateLicense)
	v1.Post("/licenses/validate", controllers.HandleValidateLicense)
	v1.Post("/downloads", controllers.HandleDownloadArtifact)
}
