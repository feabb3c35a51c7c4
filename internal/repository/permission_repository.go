package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"share-approval-service/internal/models"
)

// PermissionRepositoryInterface is the persistence contract for grants, credentials and groups
type PermissionRepositoryInterface interface {
	GetBucket(ctx context.Context, id uuid.UUID) (*models.Bucket, error)
	GetCredential(ctx context.Context, id uuid.UUID) (*models.Credential, error)

	ListUserGrants(ctx context.Context, userID, bucketID uuid.UUID) ([]models.BucketPermission, error)
	ListBucketPermissions(ctx context.Context, bucketID uuid.UUID) ([]models.BucketPermission, error)
	UpsertBucketPermission(ctx context.Context, grant *models.BucketPermission) error
	GetBucketPermission(ctx context.Context, id uuid.UUID) (*models.BucketPermission, error)
	DeleteBucketPermission(ctx context.Context, id uuid.UUID) error

	GetCredentialGrant(ctx context.Context, credentialID, bucketID uuid.UUID) (*models.CredentialBucketPermission, error)
	UpsertCredentialGrant(ctx context.Context, grant *models.CredentialBucketPermission) error
	DeleteCredentialGrant(ctx context.Context, credentialID, bucketID uuid.UUID) error

	AddGroupMember(ctx context.Context, member *models.GroupMember) error
	RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
}

// PermissionRepository handles database operations for bucket permissions
type PermissionRepository struct {
	db *gorm.DB
}

// NewPermissionRepository creates a new PermissionRepository
func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// GetBucket retrieves a bucket by ID
func (r *PermissionRepository) GetBucket(ctx context.Context, id uuid.UUID) (*models.Bucket, error) {
	var bucket models.Bucket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bucket, nil
}

// GetCredential retrieves a machine credential by ID
func (r *PermissionRepository) GetCredential(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	var credential models.Credential
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &credential, nil
}

// ListUserGrants returns every grant that applies to the user on the bucket:
// direct and group grants scoped to the bucket plus global ones.
func (r *PermissionRepository) ListUserGrants(ctx context.Context, userID, bucketID uuid.UUID) ([]models.BucketPermission, error) {
	var grants []models.BucketPermission

	groupIDs := r.db.Model(&models.GroupMember{}).Select("group_id").Where("user_id = ?", userID)

	err := r.db.WithContext(ctx).
		Where("(bucket_id = ? OR bucket_id IS NULL)", bucketID).
		Where(
			r.db.Where("subject_type = ? AND subject_id = ?", models.SubjectTypeUser, userID).
				Or("subject_type = ? AND subject_id IN (?)", models.SubjectTypeGroup, groupIDs),
		).
		Find(&grants).Error
	return grants, err
}

// ListBucketPermissions lists the user and group grants scoped to a bucket
func (r *PermissionRepository) ListBucketPermissions(ctx context.Context, bucketID uuid.UUID) ([]models.BucketPermission, error) {
	var grants []models.BucketPermission
	err := r.db.WithContext(ctx).
		Where("bucket_id = ?", bucketID).
		Order("subject_type ASC").
		Order("created_at ASC").
		Find(&grants).Error
	return grants, err
}

// UpsertBucketPermission creates the grant or replaces the level of the existing
// grant for the same (bucket, subject). Global grants have a NULL bucket, which a
// unique index does not collapse, so the lookup is done explicitly.
func (r *PermissionRepository) UpsertBucketPermission(ctx context.Context, grant *models.BucketPermission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("subject_type = ? AND subject_id = ?", grant.SubjectType, grant.SubjectID)
		if grant.BucketID == nil {
			query = query.Where("bucket_id IS NULL")
		} else {
			query = query.Where("bucket_id = ?", *grant.BucketID)
		}

		var existing models.BucketPermission
		err := query.First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(grant).Error
		case err != nil:
			return err
		}

		err = tx.Model(&models.BucketPermission{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"level":      grant.Level,
				"granted_by": grant.GrantedBy,
				"updated_at": time.Now().UTC(),
			}).Error
		if err != nil {
			return err
		}
		grant.ID = existing.ID
		grant.CreatedAt = existing.CreatedAt
		return nil
	})
}

// GetBucketPermission retrieves a single grant
func (r *PermissionRepository) GetBucketPermission(ctx context.Context, id uuid.UUID) (*models.BucketPermission, error) {
	var grant models.BucketPermission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&grant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// DeleteBucketPermission removes a grant immediately
func (r *PermissionRepository) DeleteBucketPermission(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.BucketPermission{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCredentialGrant retrieves the credential's grant on a bucket
func (r *PermissionRepository) GetCredentialGrant(ctx context.Context, credentialID, bucketID uuid.UUID) (*models.CredentialBucketPermission, error) {
	var grant models.CredentialBucketPermission
	err := r.db.WithContext(ctx).
		Where("credential_id = ? AND bucket_id = ?", credentialID, bucketID).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// UpsertCredentialGrant creates or replaces the credential's grant on a bucket
func (r *PermissionRepository) UpsertCredentialGrant(ctx context.Context, grant *models.CredentialBucketPermission) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "credential_id"}, {Name: "bucket_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "granted_by", "updated_at"}),
	}).Create(grant).Error
}

// DeleteCredentialGrant removes the credential's grant on a bucket
func (r *PermissionRepository) DeleteCredentialGrant(ctx context.Context, credentialID, bucketID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("credential_id = ? AND bucket_id = ?", credentialID, bucketID).
		Delete(&models.CredentialBucketPermission{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddGroupMember adds a user to a group; adding an existing member is a no-op
func (r *PermissionRepository) AddGroupMember(ctx context.Context, member *models.GroupMember) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(member).Error
}

// RemoveGroupMember removes a user from a group
func (r *PermissionRepository) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
