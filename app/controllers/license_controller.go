package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/MartinGrube/SoloStore/internal/pkg/licensing"
)

var licenseService *licensing.Service

func InitializeLicenseController(svc *licensing.Service) {
	licenseService = svc
}

type licenseRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceHash string `json:"device_hash"`
}

// HandleActivateLicense binds a device to a license, subject to the activation
// cap. Re-activating an already-active device refreshes its grant.
func HandleActivateLicense(c *fiber.Ctx) error {
	var req licenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if req.LicenseKey == "" || req.DeviceHash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "license_key and device_hash are required"})
	}

	grant, err := licenseService.Activate(c.Context(), req.LicenseKey, req.DeviceHash)
	if err != nil {
		return licenseError(c, err)
	}
	return c.JSON(grantResponse(grant))
}

// HandleValidateLicense checks a grant without creating one. Clients cache the
// offline grace window and only need to revalidate after it lapses.
func HandleValidateLicense(c *fiber.Ctx) error {
	var req licenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if req.LicenseKey == "" || req.DeviceHash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "license_key and device_hash are required"})
	}

	grant, err := licenseService.Validate(c.Context(), req.LicenseKey, req.DeviceHash)
	if err != nil {
		return licenseError(c, err)
	}
	return c.JSON(grantResponse(grant))
}

func grantResponse(grant *licensing.Grant) fiber.Map {
	return fiber.Map{
		"valid":              true,
		"license_key":        grant.LicenseKey,
		"device_hash":        grant.DeviceHash,
		"offline_grace_till": grant.OfflineGraceTill,
	}
}

func licenseError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, licensing.ErrLicenseNotFound):
		return notFound(c, "license")
	case errors.Is(err, licensing.ErrLicenseRevoked):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "revoked", "valid": false, "message": err.Error()})
	case errors.Is(err, licensing.ErrDeviceNotActivated):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not_activated", "valid": false, "message": err.Error()})
	default:
		return errorResponse(c, err)
	}
}
