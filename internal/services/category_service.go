package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

// maxCategoryDepth bounds ancestor walks
const maxCategoryDepth = 64

// CategoryAncestry resolves a category's parent chain
type CategoryAncestry interface {
	Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

// CategoryService maintains the parent links of the category tree
type CategoryService struct {
	repo repository.CategoryRepositoryInterface
}

// NewCategoryService creates a new CategoryService
func NewCategoryService(repo repository.CategoryRepositoryInterface) *CategoryService {
	return &CategoryService{repo: repo}
}

// SetParent moves a category under parentID, or to the root when parentID is nil.
// A move that would make the category its own ancestor fails with ErrCategoryCycle.
func (s *CategoryService) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) (*models.Category, error) {
	var updated *models.Category

	err := s.repo.WithTransaction(ctx, func(txRepo repository.CategoryRepositoryInterface) error {
		if err := txRepo.LockTree(ctx); err != nil {
			return fmt.Errorf("failed to lock category tree: %w", err)
		}

		category, err := txRepo.GetByID(ctx, id)
		if err != nil {
			return mapCategoryErr(err)
		}

		if parentID != nil {
			if *parentID == id {
				return ErrCategoryCycle
			}
			if err := ensureNotDescendant(ctx, txRepo, id, *parentID); err != nil {
				return err
			}
		}

		if err := txRepo.UpdateParent(ctx, id, parentID); err != nil {
			return mapCategoryErr(err)
		}
		category.ParentID = parentID
		updated = category
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ensureNotDescendant walks up from parentID and fails if it reaches id
func ensureNotDescendant(ctx context.Context, repo repository.CategoryRepositoryInterface, id, parentID uuid.UUID) error {
	cursor := parentID
	for depth := 0; depth < maxCategoryDepth; depth++ {
		node, err := repo.GetByID(ctx, cursor)
		if err != nil {
			return mapCategoryErr(err)
		}
		if node.ID == id {
			return ErrCategoryCycle
		}
		if node.ParentID == nil {
			return nil
		}
		cursor = *node.ParentID
	}
	return ErrCategoryCycle
}

// Ancestors returns the parent chain of a category, nearest first
func (s *CategoryService) Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	node, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapCategoryErr(err)
	}

	var ancestors []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	for depth := 0; node.ParentID != nil && depth < maxCategoryDepth; depth++ {
		parentID := *node.ParentID
		if seen[parentID] {
			break
		}
		seen[parentID] = true
		ancestors = append(ancestors, parentID)

		node, err = s.repo.GetByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			return nil, err
		}
	}
	return ancestors, nil
}

// ValidateIDs checks that every id refers to an existing category
func (s *CategoryService) ValidateIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	unique := make(map[uuid.UUID]struct{}, len(ids))
	list := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := unique[id]; !ok {
			unique[id] = struct{}{}
			list = append(list, id)
		}
	}
	count, err := s.repo.CountExisting(ctx, list)
	if err != nil {
		return err
	}
	if count != int64(len(list)) {
		return ErrCategoryNotFound
	}
	return nil
}

func mapCategoryErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCategoryNotFound
	}
	return err
}
