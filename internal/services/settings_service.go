package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

// SettingsProvider hands out the live settings snapshot
type SettingsProvider interface {
	Current(ctx context.Context) (models.ApprovalSettings, error)
}

// UpdateSettingsInput carries a partial settings change; nil fields keep their value
type UpdateSettingsInput struct {
	ExpectedVersion            int     `json:"expectedVersion" binding:"required"`
	ForceApprovalForAll        *bool   `json:"forceApprovalForAll,omitempty"`
	ForceApprovalReason        *string `json:"forceApprovalReason,omitempty"`
	ForceApprovalForLargeFiles *bool   `json:"forceApprovalForLargeFiles,omitempty"`
	LargeFileThresholdBytes    *int64  `json:"largeFileThresholdBytes,omitempty"`
	DefaultExpirationDays      *int    `json:"defaultExpirationDays,omitempty"`
	DefaultRequiredApprovals   *int    `json:"defaultRequiredApprovals,omitempty"`
	NotificationsEnabled       *bool   `json:"notificationsEnabled,omitempty"`
}

// SettingsService is the versioned settings store
type SettingsService struct {
	repo   repository.SettingsRepositoryInterface
	logger *logrus.Entry
	now    func() time.Time
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(repo repository.SettingsRepositoryInterface, logger *logrus.Logger) *SettingsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SettingsService{
		repo:   repo,
		logger: logger.WithField("component", "settings"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Current returns the live settings, creating the default version on first use
func (s *SettingsService) Current(ctx context.Context) (models.ApprovalSettings, error) {
	current, err := s.repo.GetCurrent(ctx)
	if err == nil {
		return *current, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return models.ApprovalSettings{}, err
	}

	defaults := models.DefaultApprovalSettings()
	if err := s.repo.CreateInitial(ctx, &defaults); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return models.ApprovalSettings{}, err
		}
		// Another instance seeded first
		current, err = s.repo.GetCurrent(ctx)
		if err != nil {
			return models.ApprovalSettings{}, err
		}
		return *current, nil
	}

	s.logger.Info("Seeded default approval settings")
	return defaults, nil
}

// Update validates a change against the live version and installs it as a new
// version. A stale ExpectedVersion yields ErrVersionConflict.
func (s *SettingsService) Update(ctx context.Context, input UpdateSettingsInput, actorID *uuid.UUID) (models.ApprovalSettings, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return models.ApprovalSettings{}, err
	}
	if current.Version != input.ExpectedVersion {
		return models.ApprovalSettings{}, ErrVersionConflict
	}

	next := current
	now := s.now()

	if input.ForceApprovalForAll != nil {
		switch {
		case *input.ForceApprovalForAll && !current.ForceApprovalForAll:
			next.ForceApprovalForAll = true
			next.ForceApprovalEnabledBy = actorID
			next.ForceApprovalEnabledAt = &now
		case !*input.ForceApprovalForAll:
			next.ForceApprovalForAll = false
			next.ForceApprovalEnabledBy = nil
			next.ForceApprovalEnabledAt = nil
			next.ForceApprovalReason = ""
		}
	}
	if input.ForceApprovalReason != nil && next.ForceApprovalForAll {
		next.ForceApprovalReason = strings.TrimSpace(*input.ForceApprovalReason)
	}
	if input.ForceApprovalForLargeFiles != nil {
		next.ForceApprovalForLargeFiles = *input.ForceApprovalForLargeFiles
	}
	if input.LargeFileThresholdBytes != nil {
		next.LargeFileThresholdBytes = *input.LargeFileThresholdBytes
	}
	if input.DefaultExpirationDays != nil {
		next.DefaultExpirationDays = *input.DefaultExpirationDays
	}
	if input.DefaultRequiredApprovals != nil {
		next.DefaultRequiredApprovals = *input.DefaultRequiredApprovals
	}
	if input.NotificationsEnabled != nil {
		next.NotificationsEnabled = *input.NotificationsEnabled
	}
	next.UpdatedBy = actorID

	if err := validateSettings(next); err != nil {
		return models.ApprovalSettings{}, err
	}

	if err := s.repo.Replace(ctx, input.ExpectedVersion, &next); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return models.ApprovalSettings{}, ErrVersionConflict
		}
		return models.ApprovalSettings{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"version":             next.Version,
		"forceApprovalForAll": next.ForceApprovalForAll,
		"forceLargeFiles":     next.ForceApprovalForLargeFiles,
	}).Info("Approval settings updated")

	return next, nil
}

// History lists settings versions, newest first
func (s *SettingsService) History(ctx context.Context, limit int) ([]models.ApprovalSettings, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.ListVersions(ctx, limit)
}

func validateSettings(settings models.ApprovalSettings) error {
	if settings.ForceApprovalForAll && settings.ForceApprovalReason == "" {
		return validationError("forceApprovalReason", "is required when forcing approval for all shares")
	}
	if settings.ForceApprovalForLargeFiles && settings.LargeFileThresholdBytes <= 0 {
		return validationError("largeFileThresholdBytes", "must be positive when forcing approval for large files")
	}
	if settings.LargeFileThresholdBytes < 0 {
		return validationError("largeFileThresholdBytes", "must not be negative")
	}
	if settings.DefaultExpirationDays < 1 {
		return validationError("defaultExpirationDays", "must be at least 1")
	}
	if settings.DefaultRequiredApprovals < 1 {
		return validationError("defaultRequiredApprovals", "must be at least 1")
	}
	return nil
}
