package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/cache"
	"share-approval-service/internal/metrics"
	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

// Subject labels used in metrics and logs
const (
	subjectUser       = "user"
	subjectCredential = "credential"
)

// PermissionService manages bucket grants and answers permission checks.
// Every grant write invalidates the permission cache before it returns.
type PermissionService struct {
	repo    repository.PermissionRepositoryInterface
	cache   *cache.PermissionCache
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewPermissionService creates a new PermissionService. cache and m may be nil.
func NewPermissionService(repo repository.PermissionRepositoryInterface, permCache *cache.PermissionCache, m *metrics.Metrics, logger *logrus.Logger) *PermissionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PermissionService{
		repo:    repo,
		cache:   permCache,
		metrics: m,
		logger:  logger.WithField("component", "permissions"),
	}
}

// ResolveUser returns the effective level of a user on a bucket
func (s *PermissionService) ResolveUser(ctx context.Context, userID, bucketID uuid.UUID) (models.PermissionLevel, error) {
	generation, err := s.cache.Generation(ctx)
	cacheUsable := err == nil
	if err != nil {
		s.logger.WithError(err).Warn("Permission cache unavailable, reading grants from database")
	}

	if cacheUsable {
		level, ok, err := s.cache.Get(ctx, generation, userID, bucketID)
		if err != nil {
			s.logger.WithError(err).Warn("Permission cache read failed")
		} else if s.cache.IsAvailable() {
			s.metrics.RecordCacheLookup(ok)
			if ok {
				return level, nil
			}
		}
	}

	if _, err := s.repo.GetBucket(ctx, bucketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PermissionNone, ErrBucketNotFound
		}
		return models.PermissionNone, err
	}

	grants, err := s.repo.ListUserGrants(ctx, userID, bucketID)
	if err != nil {
		return models.PermissionNone, fmt.Errorf("failed to load grants: %w", err)
	}
	level := ResolveUserLevel(grants)

	if cacheUsable {
		if err := s.cache.Set(ctx, generation, userID, bucketID, level); err != nil {
			s.logger.WithError(err).Warn("Permission cache write failed")
		}
	}
	return level, nil
}

// CheckUser answers whether a user holds at least required on a bucket
func (s *PermissionService) CheckUser(ctx context.Context, userID, bucketID uuid.UUID, required models.PermissionLevel) (models.PermissionCheckResult, error) {
	have, err := s.ResolveUser(ctx, userID, bucketID)
	if err != nil {
		return models.PermissionCheckResult{}, err
	}
	result := CheckUserLevel(have, required)
	s.metrics.RecordPermissionCheck(subjectUser, result.Allowed)
	return result, nil
}

// CheckCredential answers whether a machine credential holds at least required on a bucket.
// Credential checks always read through to the database.
func (s *PermissionService) CheckCredential(ctx context.Context, credentialID, bucketID uuid.UUID, required models.PermissionLevel) (models.PermissionCheckResult, error) {
	bucket, err := s.repo.GetBucket(ctx, bucketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PermissionCheckResult{}, ErrBucketNotFound
		}
		return models.PermissionCheckResult{}, err
	}

	credential, err := s.repo.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PermissionCheckResult{}, ErrCredentialNotFound
		}
		return models.PermissionCheckResult{}, err
	}

	grants := CredentialGrants{Credential: credential, Bucket: bucket}
	grant, err := s.repo.GetCredentialGrant(ctx, credentialID, bucketID)
	switch {
	case err == nil:
		grants.Grant = grant
	case !errors.Is(err, repository.ErrNotFound):
		return models.PermissionCheckResult{}, err
	}

	result := CheckCredentialLevel(grants, required)
	s.metrics.RecordPermissionCheck(subjectCredential, result.Allowed)
	return result, nil
}

// GrantUser grants a user a level on a bucket, or on every bucket when bucketID is nil
func (s *PermissionService) GrantUser(ctx context.Context, bucketID *uuid.UUID, userID uuid.UUID, level models.PermissionLevel, actorID *uuid.UUID) (*models.BucketPermission, error) {
	return s.grantSubject(ctx, bucketID, models.SubjectTypeUser, userID, level, actorID)
}

// GrantGroup grants a group a level on a bucket, or on every bucket when bucketID is nil
func (s *PermissionService) GrantGroup(ctx context.Context, bucketID *uuid.UUID, groupID uuid.UUID, level models.PermissionLevel, actorID *uuid.UUID) (*models.BucketPermission, error) {
	return s.grantSubject(ctx, bucketID, models.SubjectTypeGroup, groupID, level, actorID)
}

func (s *PermissionService) grantSubject(ctx context.Context, bucketID *uuid.UUID, subjectType string, subjectID uuid.UUID, level models.PermissionLevel, actorID *uuid.UUID) (*models.BucketPermission, error) {
	if !level.Valid() || level == models.PermissionNone {
		return nil, validationError("level", "must be read, read_write or admin")
	}
	if subjectID == uuid.Nil {
		return nil, validationError("subjectId", "is required")
	}
	if bucketID != nil {
		if _, err := s.repo.GetBucket(ctx, *bucketID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrBucketNotFound
			}
			return nil, err
		}
	}

	grant := &models.BucketPermission{
		BucketID:    bucketID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Level:       level,
		GrantedBy:   actorID,
	}
	if err := s.invalidateBeforeWrite(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertBucketPermission(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save grant: %w", err)
	}
	if err := s.invalidate(ctx); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"subjectType": subjectType,
		"subjectID":   subjectID,
		"global":      bucketID == nil,
		"level":       level.String(),
	}).Info("Bucket permission granted")

	return grant, nil
}

// RevokeBucketPermission removes a user or group grant. When bucketID is set the
// grant must belong to that bucket.
func (s *PermissionService) RevokeBucketPermission(ctx context.Context, bucketID *uuid.UUID, permissionID uuid.UUID) error {
	grant, err := s.repo.GetBucketPermission(ctx, permissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGrantNotFound
		}
		return err
	}
	if bucketID != nil && (grant.BucketID == nil || *grant.BucketID != *bucketID) {
		return ErrGrantNotFound
	}

	if err := s.invalidateBeforeWrite(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteBucketPermission(ctx, permissionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGrantNotFound
		}
		return err
	}
	if err := s.invalidate(ctx); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"permissionID": permissionID,
		"subjectType":  grant.SubjectType,
		"subjectID":    grant.SubjectID,
	}).Info("Bucket permission revoked")
	return nil
}

// ListBucketGrants lists the user and group grants scoped to a bucket
func (s *PermissionService) ListBucketGrants(ctx context.Context, bucketID uuid.UUID) ([]models.BucketPermission, error) {
	if _, err := s.repo.GetBucket(ctx, bucketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}
	return s.repo.ListBucketPermissions(ctx, bucketID)
}

// GrantCredential grants a machine credential a level on a bucket
func (s *PermissionService) GrantCredential(ctx context.Context, credentialID, bucketID uuid.UUID, level models.PermissionLevel, actorID *uuid.UUID) (*models.CredentialBucketPermission, error) {
	if !level.Valid() || level == models.PermissionNone {
		return nil, validationError("level", "must be read, read_write or admin")
	}
	if _, err := s.repo.GetBucket(ctx, bucketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}
	if _, err := s.repo.GetCredential(ctx, credentialID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	grant := &models.CredentialBucketPermission{
		CredentialID: credentialID,
		BucketID:     bucketID,
		Level:        level,
		GrantedBy:    actorID,
	}
	if err := s.repo.UpsertCredentialGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save credential grant: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"credentialID": credentialID,
		"bucketID":     bucketID,
		"level":        level.String(),
	}).Info("Credential permission granted")
	return grant, nil
}

// RevokeCredential removes a machine credential's grant on a bucket
func (s *PermissionService) RevokeCredential(ctx context.Context, credentialID, bucketID uuid.UUID) error {
	if err := s.repo.DeleteCredentialGrant(ctx, credentialID, bucketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGrantNotFound
		}
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"credentialID": credentialID,
		"bucketID":     bucketID,
	}).Info("Credential permission revoked")
	return nil
}

// AddGroupMember adds a user to a group
func (s *PermissionService) AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	if groupID == uuid.Nil || userID == uuid.Nil {
		return validationError("userId", "is required")
	}
	if err := s.invalidateBeforeWrite(ctx); err != nil {
		return err
	}
	if err := s.repo.AddGroupMember(ctx, &models.GroupMember{GroupID: groupID, UserID: userID}); err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return s.invalidate(ctx)
}

// RemoveGroupMember removes a user from a group
func (s *PermissionService) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	if err := s.invalidateBeforeWrite(ctx); err != nil {
		return err
	}
	if err := s.repo.RemoveGroupMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGrantNotFound
		}
		return err
	}
	return s.invalidate(ctx)
}

// invalidateBeforeWrite retires cached levels ahead of a grant change. When the
// cache cannot be invalidated the change is not made, so no level cached before
// it can outlive it.
func (s *PermissionService) invalidateBeforeWrite(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to invalidate permission cache, grant change refused")
		return fmt.Errorf("permission cache invalidation failed, grant not changed: %w", err)
	}
	return nil
}

// invalidate retires levels cached by readers that ran while the grant change
// was being written. A failure is returned to the caller.
func (s *PermissionService) invalidate(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to invalidate permission cache")
		return fmt.Errorf("grant saved but permission cache invalidation failed: %w", err)
	}
	return nil
}
