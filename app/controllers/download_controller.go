package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/storage"
)

var (
	downloadDB      *gorm.DB
	artifactStorage *storage.Client
)

func InitializeDownloadController(db *gorm.DB, store *storage.Client) {
	downloadDB = db
	artifactStorage = store
}

type downloadRequest struct {
	VersionID     uint   `json:"version_id"`
	CustomerEmail string `json:"customer_email"`
	PaymentRef    string `json:"payment_ref"` // provider payment id from the receipt
}

// HandleDownloadArtifact hands out a short-lived presigned URL for a paid
// version. The receipt's payment reference plus the purchase email proves
// ownership; an active entitlement is required, so refunded orders lose
// access immediately.
func HandleDownloadArtifact(c *fiber.Ctx) error {
	if artifactStorage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "artifact storage is not configured"})
	}

	var req downloadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if req.VersionID == 0 || req.CustomerEmail == "" || req.PaymentRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "version_id, customer_email and payment_ref are required"})
	}

	var order models.Order
	err := downloadDB.WithContext(c.Context()).
		Where("provider_payment_id = ? AND customer_email = ?",
			req.PaymentRef, strings.ToLower(strings.TrimSpace(req.CustomerEmail))).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "order")
		}
		return errorResponse(c, err)
	}

	var entitlement models.Entitlement
	err = downloadDB.WithContext(c.Context()).
		Where("order_id = ? AND version_id = ? AND status = ?",
			order.ID, req.VersionID, models.EntitlementStatusActive).
		First(&entitlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "no active entitlement for this version"})
		}
		return errorResponse(c, err)
	}

	var version models.ProductVersion
	if err := downloadDB.WithContext(c.Context()).First(&version, req.VersionID).Error; err != nil {
		return notFound(c, "version")
	}
	if version.ArtifactKey == "" {
		return notFound(c, "artifact")
	}

	url, err := artifactStorage.PresignDownload(c.Context(), version.ArtifactKey)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"download_url": url,
		"expires_in":   int(storage.DownloadURLTTL.Seconds()),
	})
}
