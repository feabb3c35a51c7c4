package seeders

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"share-approval-service/internal/models"
)

// SeedDefaults installs the fallback policy and the first settings version
func SeedDefaults(db *gorm.DB, logger *logrus.Logger) error {
	if err := SeedFallbackPolicy(db, logger); err != nil {
		return err
	}
	return SeedDefaultSettings(db, logger)
}

// SeedFallbackPolicy creates the catch-all policy or restores its invariant
// columns. Admin-editable fields (description, timeout, self-approval) are left
// as they are.
func SeedFallbackPolicy(db *gorm.DB, logger *logrus.Logger) error {
	fallback := models.NewFallbackPolicy()

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_fallback", "is_active", "require_approval", "required_approvals", "priority", "deleted_at", "updated_at"}),
	}).Create(fallback)
	if result.Error != nil {
		return fmt.Errorf("failed to seed fallback policy: %w", result.Error)
	}

	logger.WithField("policy", fallback.Name).Info("Seeded fallback approval policy")
	return nil
}

// SeedDefaultSettings creates settings version 1 when no version exists
func SeedDefaultSettings(db *gorm.DB, logger *logrus.Logger) error {
	var current models.ApprovalSettings
	err := db.Where("is_current = ?", true).First(&current).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read approval settings: %w", err)
	}

	defaults := models.DefaultApprovalSettings()
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "version"}},
		DoNothing: true,
	}).Create(&defaults)
	if result.Error != nil {
		return fmt.Errorf("failed to seed approval settings: %w", result.Error)
	}

	logger.WithField("version", defaults.Version).Info("Seeded default approval settings")
	return nil
}
