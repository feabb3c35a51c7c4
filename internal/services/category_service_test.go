package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

// MockCategoryRepository is a mock implementation of CategoryRepositoryInterface
type MockCategoryRepository struct {
	mock.Mock
}

func (m *MockCategoryRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.CategoryRepositoryInterface) error) error {
	return fn(m)
}

func (m *MockCategoryRepository) LockTree(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCategoryRepository) Create(ctx context.Context, category *models.Category) error {
	args := m.Called(ctx, category)
	return args.Error(0)
}

func (m *MockCategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Category), args.Error(1)
}

func (m *MockCategoryRepository) CountExisting(ctx context.Context, ids []uuid.UUID) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCategoryRepository) UpdateParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	args := m.Called(ctx, id, parentID)
	return args.Error(0)
}

func TestCategoryService_Ancestors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.category(t, nil)
	mid := env.category(t, &root)
	leaf := env.category(t, &mid)

	ancestors, err := env.categories.Ancestors(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{mid, root}, ancestors)

	ancestors, err = env.categories.Ancestors(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, ancestors)

	_, err = env.categories.Ancestors(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestCategoryService_SetParentRejectsCycles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.category(t, nil)
	mid := env.category(t, &root)
	leaf := env.category(t, &mid)

	_, err := env.categories.SetParent(ctx, root, &leaf)
	assert.ErrorIs(t, err, ErrCategoryCycle)

	_, err = env.categories.SetParent(ctx, mid, &mid)
	assert.ErrorIs(t, err, ErrCategoryCycle)

	missing := uuid.New()
	_, err = env.categories.SetParent(ctx, leaf, &missing)
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	moved, err := env.categories.SetParent(ctx, leaf, &root)
	require.NoError(t, err)
	assert.Equal(t, root, *moved.ParentID)

	moved, err = env.categories.SetParent(ctx, mid, nil)
	require.NoError(t, err)
	assert.Nil(t, moved.ParentID)

	ancestors, err := env.categories.Ancestors(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{root}, ancestors)
}

func TestCategoryService_ValidateIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.category(t, nil)
	b := env.category(t, nil)

	assert.NoError(t, env.categories.ValidateIDs(ctx, nil))
	assert.NoError(t, env.categories.ValidateIDs(ctx, []uuid.UUID{a, b, a}))
	assert.ErrorIs(t, env.categories.ValidateIDs(ctx, []uuid.UUID{a, uuid.New()}), ErrCategoryNotFound)
}

func TestSubmit_SubcategoryInheritsPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	finance := env.category(t, nil)
	payroll := env.category(t, &finance)
	bucketID := env.bucket(t)
	env.policy(t, "Finance", 1, 2, func(p *models.ApprovalPolicy) {
		p.CategoryIDs = categoryFilter(finance)
		p.IncludeSubcategories = true
	})

	share := newShare(bucketID, uuid.New())
	share.CategoryID = &payroll
	match, err := env.gate.Evaluate(ctx, share.Attributes())
	require.NoError(t, err)
	assert.Equal(t, "Finance", match.Policy.Name)

	unknown := uuid.New()
	share.CategoryID = &unknown
	match, err = env.gate.Evaluate(ctx, share.Attributes())
	require.NoError(t, err)
	assert.True(t, match.Policy.IsFallback)
}

func TestCategoryService_SetParentTakesTreeLockFirst(t *testing.T) {
	repo := new(MockCategoryRepository)
	service := NewCategoryService(repo)
	ctx := context.Background()
	id, parentID := uuid.New(), uuid.New()

	lockErr := errors.New("lock timeout")
	repo.On("LockTree", ctx).Return(lockErr).Once()

	_, err := service.SetParent(ctx, id, &parentID)
	assert.ErrorIs(t, err, lockErr)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateParent", mock.Anything, mock.Anything, mock.Anything)

	lock := repo.On("LockTree", ctx).Return(nil).Once()
	repo.On("GetByID", ctx, id).Return(&models.Category{ID: id}, nil).Once().NotBefore(lock)
	repo.On("GetByID", ctx, parentID).Return(&models.Category{ID: parentID}, nil).Once()
	repo.On("UpdateParent", ctx, id, &parentID).Return(nil).Once()

	moved, err := service.SetParent(ctx, id, &parentID)
	require.NoError(t, err)
	assert.Equal(t, parentID, *moved.ParentID)
	repo.AssertExpectations(t)
}

func TestCategoryService_OpposingMovesNeverFormCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a := env.category(t, nil)
		b := env.category(t, nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = env.categories.SetParent(ctx, a, &b)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = env.categories.SetParent(ctx, b, &a)
		}()
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ErrCategoryCycle)
				failed++
			}
		}
		assert.Equal(t, 1, failed)

		ancestors, err := env.categories.Ancestors(ctx, a)
		require.NoError(t, err)
		assert.NotContains(t, ancestors, a)
	}
}
