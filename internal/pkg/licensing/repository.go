package licensing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
)

// Repository provides DB operations used by the licensing service.
type Repository interface {
	GetByKey(ctx context.Context, key string) (*models.License, error)
	GetByOrderVersion(ctx context.Context, orderID, versionID uint) (*models.License, error)
	CreateIfNotExists(ctx context.Context, license *models.License) (bool, *models.License, error)
	LicensesByOrder(ctx context.Context, orderID uint) ([]models.License, error)
	RevokeLicense(ctx context.Context, licenseID uint, at time.Time) error
	RevokeActivations(ctx context.Context, licenseID uint) error

	GetActivation(ctx context.Context, licenseID uint, deviceHash string) (*models.LicenseActivation, error)
	CountActiveActivations(ctx context.Context, licenseID uint) (int64, error)
	OldestActiveActivation(ctx context.Context, licenseID uint) (*models.LicenseActivation, error)
	SaveActivation(ctx context.Context, a *models.LicenseActivation) error
	CreateActivation(ctx context.Context, a *models.LicenseActivation) error
	DeactivateStaleActivations(ctx context.Context, before time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a licensing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByKey(ctx context.Context, key string) (*models.License, error) {
	var license models.License
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *gormRepository) GetByOrderVersion(ctx context.Context, orderID, versionID uint) (*models.License, error) {
	var license models.License
	if err := r.db.WithContext(ctx).Where("order_id = ? AND version_id = ?", orderID, versionID).First(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *gormRepository) CreateIfNotExists(ctx context.Context, license *models.License) (bool, *models.License, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "order_id"},
			{Name: "version_id"},
		},
		DoNothing: true,
	}).Create(license)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.License
	if err := r.db.WithContext(ctx).Where("order_id = ? AND version_id = ?", license.OrderID, license.VersionID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) LicensesByOrder(ctx context.Context, orderID uint) ([]models.License, error) {
	var licenses []models.License
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&licenses).Error
	return licenses, err
}

func (r *gormRepository) RevokeLicense(ctx context.Context, licenseID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ? AND status = ?", licenseID, models.LicenseStatusActive).
		Updates(map[string]interface{}{
			"status":     models.LicenseStatusRevoked,
			"revoked_at": at,
		}).Error
}

func (r *gormRepository) RevokeActivations(ctx context.Context, licenseID uint) error {
	return r.db.WithContext(ctx).Model(&models.LicenseActivation{}).
		Where("license_id = ? AND status = ?", licenseID, models.ActivationStatusActive).
		Update("status", models.ActivationStatusRevoked).Error
}

func (r *gormRepository) GetActivation(ctx context.Context, licenseID uint, deviceHash string) (*models.LicenseActivation, error) {
	var a models.LicenseActivation
	if err := r.db.WithContext(ctx).Where("license_id = ? AND device_hash = ?", licenseID, deviceHash).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) CountActiveActivations(ctx context.Context, licenseID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LicenseActivation{}).
		Where("license_id = ? AND status = ?", licenseID, models.ActivationStatusActive).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) OldestActiveActivation(ctx context.Context, licenseID uint) (*models.LicenseActivation, error) {
	var a models.LicenseActivation
	err := r.db.WithContext(ctx).Where("license_id = ? AND status = ?", licenseID, models.ActivationStatusActive).
		Order("last_seen_at ASC").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) SaveActivation(ctx context.Context, a *models.LicenseActivation) error {
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *gormRepository) CreateActivation(ctx context.Context, a *models.LicenseActivation) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *gormRepository) DeactivateStaleActivations(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.LicenseActivation{}).
		Where("status = ? AND last_seen_at < ?", models.ActivationStatusActive, before).
		Update("status", models.ActivationStatusRevoked)
	return res.RowsAffected, res.Error
}
