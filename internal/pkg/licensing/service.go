package licensing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/env"
)

var (
	ErrLicenseNotFound         = apperr.New(apperr.KindValidation, "license not found")
	ErrLicenseRevoked          = apperr.New(apperr.KindTerminal, "license is revoked")
	ErrActivationLimitExceeded = apperr.New(apperr.KindRaceLoss, "activation limit exceeded")
	ErrDeviceNotActivated      = apperr.New(apperr.KindValidation, "device is not activated")
)

// Service implements the license issuance/activation/validation state machine.
type Service struct {
	repo Repository

	// autoReplaceOldest replaces the least-recently-seen activation instead
	// of failing when the activation cap is reached. Explicit configured
	// mode, never silent.
	autoReplaceOldest bool
	offlineGrace      time.Duration
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:              repo,
		autoReplaceOldest: env.GetBool("LICENSE_AUTO_REPLACE_OLDEST", false),
		offlineGrace:      72 * time.Hour,
	}
}

func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Grant is the successful result of an activation or validation call. The
// offline-grace deadline bounds how long a client may keep using the cached
// grant without contact; enforcement is client-side.
type Grant struct {
	LicenseKey       string    `json:"license_key"`
	DeviceHash       string    `json:"device_hash"`
	OfflineGraceTill time.Time `json:"offline_grace_till"`
}

// Issue creates the license for an order+version, or returns the existing one
// on replay. Idempotent on (order, version).
func (s *Service) Issue(ctx context.Context, orderID, versionID, userID uint, activationLimit int) (*models.License, error) {
	if orderID == 0 || versionID == 0 {
		return nil, apperr.Validationf("order_id and version_id are required")
	}
	if activationLimit <= 0 {
		activationLimit = 3
	}

	license := &models.License{
		Key:             GenerateKey(),
		OrderID:         orderID,
		VersionID:       versionID,
		UserID:          userID,
		ActivationLimit: activationLimit,
		Status:          models.LicenseStatusActive,
	}
	created, stored, err := s.repo.CreateIfNotExists(ctx, license)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("[Licensing] License for order %d version %d already issued (%s)", orderID, versionID, stored.Key)
	}
	return stored, nil
}

// Activate binds a device to a license, reactivating a previously pruned
// device row when one exists.
func (s *Service) Activate(ctx context.Context, licenseKey, deviceHash string) (*Grant, error) {
	license, err := s.lookup(ctx, licenseKey)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusRevoked {
		return nil, ErrLicenseRevoked
	}
	deviceHash = strings.TrimSpace(deviceHash)
	if deviceHash == "" {
		return nil, apperr.Validationf("device hash is required")
	}

	now := time.Now()

	existing, err := s.repo.GetActivation(ctx, license.ID, deviceHash)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == models.ActivationStatusActive {
		existing.LastSeenAt = now
		if err := s.repo.SaveActivation(ctx, existing); err != nil {
			return nil, err
		}
		return s.grant(license, deviceHash, now), nil
	}

	// New or previously deactivated device: the cap counts active rows only.
	active, err := s.repo.CountActiveActivations(ctx, license.ID)
	if err != nil {
		return nil, err
	}
	if active >= int64(license.ActivationLimit) {
		if !s.autoReplaceOldest {
			return nil, ErrActivationLimitExceeded
		}
		oldest, err := s.repo.OldestActiveActivation(ctx, license.ID)
		if err != nil {
			return nil, err
		}
		oldest.Status = models.ActivationStatusRevoked
		if err := s.repo.SaveActivation(ctx, oldest); err != nil {
			return nil, err
		}
		log.Infof("[Licensing] Replaced oldest activation %d for license %s", oldest.ID, license.Key)
	}

	if existing != nil {
		existing.Status = models.ActivationStatusActive
		existing.LastSeenAt = now
		if err := s.repo.SaveActivation(ctx, existing); err != nil {
			return nil, err
		}
		return s.grant(license, deviceHash, now), nil
	}

	activation := &models.LicenseActivation{
		LicenseID:  license.ID,
		DeviceHash: deviceHash,
		Status:     models.ActivationStatusActive,
		LastSeenAt: now,
	}
	if err := s.repo.CreateActivation(ctx, activation); err != nil {
		return nil, err
	}
	return s.grant(license, deviceHash, now), nil
}

// Validate confirms an existing activation and refreshes its last-seen stamp.
func (s *Service) Validate(ctx context.Context, licenseKey, deviceHash string) (*Grant, error) {
	license, err := s.lookup(ctx, licenseKey)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusRevoked {
		return nil, ErrLicenseRevoked
	}

	activation, err := s.repo.GetActivation(ctx, license.ID, strings.TrimSpace(deviceHash))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotActivated
		}
		return nil, err
	}
	if activation.Status != models.ActivationStatusActive {
		return nil, ErrDeviceNotActivated
	}

	now := time.Now()
	activation.LastSeenAt = now
	if err := s.repo.SaveActivation(ctx, activation); err != nil {
		return nil, err
	}
	return s.grant(license, activation.DeviceHash, now), nil
}

// RevokeByOrder revokes every license of an order and cascades to all its
// activations. Already-revoked licenses are a no-op, keeping refund
// reconciliation idempotent.
func (s *Service) RevokeByOrder(ctx context.Context, orderID uint) error {
	licenses, err := s.repo.LicensesByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, license := range licenses {
		if license.Status == models.LicenseStatusRevoked {
			continue
		}
		if err := s.repo.RevokeLicense(ctx, license.ID, now); err != nil {
			return err
		}
		if err := s.repo.RevokeActivations(ctx, license.ID); err != nil {
			return err
		}
		log.Infof("[Licensing] Revoked license %s (order %d)", license.Key, orderID)
	}
	return nil
}

// PruneStale deactivates activations not seen within the staleness window,
// freeing their activation slots.
func (s *Service) PruneStale(ctx context.Context, staleness time.Duration) (int64, error) {
	if staleness <= 0 {
		staleness = 90 * 24 * time.Hour
	}
	pruned, err := s.repo.DeactivateStaleActivations(ctx, time.Now().Add(-staleness))
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		log.Infof("[Licensing] Pruned %d stale activations", pruned)
	}
	return pruned, nil
}

func (s *Service) lookup(ctx context.Context, licenseKey string) (*models.License, error) {
	key := strings.TrimSpace(licenseKey)
	if key == "" {
		return nil, apperr.Validationf("license key is required")
	}
	license, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	return license, nil
}

func (s *Service) grant(license *models.License, deviceHash string, now time.Time) *Grant {
	return &Grant{
		LicenseKey:       license.Key,
		DeviceHash:       deviceHash,
		OfflineGraceTill: now.Add(s.offlineGrace),
	}
}

// GenerateKey returns a new license key in the SOLO-XXXX-XXXX-XXXX-XXXX
// format, derived from a v4 UUID.
func GenerateKey() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "SOLO-" + raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12] + "-" + raw[12:16]
}
