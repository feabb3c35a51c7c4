package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"share-approval-service/internal/models"
)

// CategoryRepositoryInterface is the persistence contract for the category tree
type CategoryRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo CategoryRepositoryInterface) error) error
	LockTree(ctx context.Context) error
	Create(ctx context.Context, category *models.Category) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error)
	CountExisting(ctx context.Context, ids []uuid.UUID) (int64, error)
	UpdateParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
}

// categoryTreeLockKey identifies the advisory lock serializing parent moves
const categoryTreeLockKey int64 = 7_421_001

// CategoryRepository handles the (id, parent_id) category table
type CategoryRepository struct {
	db *gorm.DB
}

// NewCategoryRepository creates a new CategoryRepository
func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// WithTransaction runs fn with a repository bound to a single database transaction
func (r *CategoryRepository) WithTransaction(ctx context.Context, fn func(txRepo CategoryRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CategoryRepository{db: tx})
	})
}

// LockTree serializes parent moves until the surrounding transaction ends, so
// a move's ancestor walk sees every move committed before it. Only postgres
// needs it; sqlite already allows a single writer.
func (r *CategoryRepository) LockTree(ctx context.Context) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", categoryTreeLockKey).Error
}

// Create inserts a category
func (r *CategoryRepository) Create(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Create(category).Error
}

// GetByID retrieves a category by ID
func (r *CategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

// CountExisting counts how many of ids refer to existing categories
func (r *CategoryRepository) CountExisting(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var count int64
	if len(ids) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Category{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

// UpdateParent moves a category under parentID (nil makes it a root)
func (r *CategoryRepository) UpdateParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&models.Category{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"parent_id":  parentID,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
