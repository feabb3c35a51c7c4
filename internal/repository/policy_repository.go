package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"share-approval-service/internal/models"
)

// PolicyFilter narrows the administrative policy listing
type PolicyFilter struct {
	IsActive *bool
	Name     string
}

// PolicyRepositoryInterface is the persistence contract for approval policies
type PolicyRepositoryInterface interface {
	Create(ctx context.Context, policy *models.ApprovalPolicy) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalPolicy, error)
	GetFallback(ctx context.Context) (*models.ApprovalPolicy, error)
	List(ctx context.Context, filter PolicyFilter, limit, offset int) ([]models.ApprovalPolicy, int64, error)
	ListActive(ctx context.Context) ([]models.ApprovalPolicy, error)
	UpdateWithVersion(ctx context.Context, policy *models.ApprovalPolicy, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PolicyRepository handles database operations for approval policies
type PolicyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new PolicyRepository
func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Create inserts a policy; a name clash is reported as ErrDuplicate
func (r *PolicyRepository) Create(ctx context.Context, policy *models.ApprovalPolicy) error {
	if err := r.db.WithContext(ctx).Create(policy).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalPolicy, error) {
	var policy models.ApprovalPolicy
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// GetFallback retrieves the catch-all policy
func (r *PolicyRepository) GetFallback(ctx context.Context) (*models.ApprovalPolicy, error) {
	var policy models.ApprovalPolicy
	err := r.db.WithContext(ctx).Where("is_fallback = ?", true).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// List retrieves policies ordered the way the matcher evaluates them
func (r *PolicyRepository) List(ctx context.Context, filter PolicyFilter, limit, offset int) ([]models.ApprovalPolicy, int64, error) {
	var policies []models.ApprovalPolicy
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ApprovalPolicy{})
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("priority ASC").
		Order("name ASC").
		Limit(limit).
		Offset(offset).
		Find(&policies).Error

	return policies, total, err
}

// ListActive retrieves every active policy, fallback included
func (r *PolicyRepository) ListActive(ctx context.Context) ([]models.ApprovalPolicy, error) {
	var policies []models.ApprovalPolicy
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority ASC").
		Order("name ASC").
		Find(&policies).Error
	return policies, err
}

// UpdateWithVersion writes every editable column if the stored version matches
func (r *PolicyRepository) UpdateWithVersion(ctx context.Context, policy *models.ApprovalPolicy, expectedVersion int) error {
	nextVersion := expectedVersion + 1

	result := r.db.WithContext(ctx).Model(&models.ApprovalPolicy{}).
		Where("id = ? AND version = ?", policy.ID, expectedVersion).
		Updates(map[string]interface{}{
			"name":                  policy.Name,
			"description":           policy.Description,
			"priority":              policy.Priority,
			"is_active":             policy.IsActive,
			"require_approval":      policy.RequireApproval,
			"timeout_hours":         policy.TimeoutHours,
			"required_approvals":    policy.RequiredApprovals,
			"allow_self_approval":   policy.AllowSelfApproval,
			"category_ids":          policy.CategoryIDs,
			"include_subcategories": policy.IncludeSubcategories,
			"storage_provider_ids":  policy.StorageProviderIDs,
			"requester_ids":         policy.RequesterIDs,
			"credential_ids":        policy.CredentialIDs,
			"file_types":            policy.FileTypes,
			"max_file_size_bytes":   policy.MaxFileSizeBytes,
			"updated_by":            policy.UpdatedBy,
			"version":               nextVersion,
			"updated_at":            time.Now().UTC(),
		})

	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return ErrDuplicate
		}
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	policy.Version = nextVersion
	return nil
}

// Delete soft-deletes a policy
func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ApprovalPolicy{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
