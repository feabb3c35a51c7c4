package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"share-approval-service/internal/models"
)

// SettingsRepositoryInterface is the persistence contract for versioned settings
type SettingsRepositoryInterface interface {
	GetCurrent(ctx context.Context) (*models.ApprovalSettings, error)
	CreateInitial(ctx context.Context, settings *models.ApprovalSettings) error
	Replace(ctx context.Context, expectedVersion int, next *models.ApprovalSettings) error
	ListVersions(ctx context.Context, limit int) ([]models.ApprovalSettings, error)
}

// SettingsRepository stores one row per settings version
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetCurrent retrieves the live settings version
func (r *SettingsRepository) GetCurrent(ctx context.Context) (*models.ApprovalSettings, error) {
	var settings models.ApprovalSettings
	err := r.db.WithContext(ctx).
		Where("is_current = ?", true).
		Order("version DESC").
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// CreateInitial inserts version 1; losing a race with another writer yields ErrDuplicate
func (r *SettingsRepository) CreateInitial(ctx context.Context, settings *models.ApprovalSettings) error {
	settings.Version = 1
	settings.IsCurrent = true
	if err := r.db.WithContext(ctx).Create(settings).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Replace retires the current version and inserts next as expectedVersion+1, atomically.
// ErrVersionConflict means the live version is no longer expectedVersion.
func (r *SettingsRepository) Replace(ctx context.Context, expectedVersion int, next *models.ApprovalSettings) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Model(&models.ApprovalSettings{}).
			Where("version = ? AND is_current = ?", expectedVersion, true).
			Updates(map[string]interface{}{
				"is_current": false,
				"retired_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		next.ID = uuid.Nil
		next.Version = expectedVersion + 1
		next.IsCurrent = true
		next.RetiredAt = nil
		next.CreatedAt = now
		if err := tx.Create(next).Error; err != nil {
			if IsUniqueViolation(err) {
				return ErrVersionConflict
			}
			return err
		}
		return nil
	})
}

// ListVersions lists settings versions, newest first
func (r *SettingsRepository) ListVersions(ctx context.Context, limit int) ([]models.ApprovalSettings, error) {
	var versions []models.ApprovalSettings
	err := r.db.WithContext(ctx).
		Order("version DESC").
		Limit(limit).
		Find(&versions).Error
	return versions, err
}
