package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"share-approval-service/internal/models"
	"share-approval-service/internal/testutil"
)

func storedRequest(t *testing.T, repo *ApprovalRepository) *models.ShareApprovalRequest {
	t.Helper()
	request := &models.ShareApprovalRequest{
		Status:            models.StatusPending,
		Version:           1,
		ShareID:           uuid.New(),
		DocumentID:        uuid.New(),
		BucketID:          uuid.New(),
		RequesterID:       uuid.New(),
		PolicyID:          uuid.New(),
		RequiredApprovals: 2,
		ExpiresAt:         time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.CreateRequest(context.Background(), request))
	return request
}

func TestApprovalRepository_CreateDecisionRejectsSecondVote(t *testing.T) {
	repo := NewApprovalRepository(testutil.NewTestDB(t))
	ctx := context.Background()
	request := storedRequest(t, repo)
	approver := uuid.New()

	first := &models.ApprovalDecision{
		RequestID:  request.ID,
		ApproverID: approver,
		Decision:   models.DecisionApproved,
		DecidedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateDecision(ctx, first))

	second := &models.ApprovalDecision{
		RequestID:  request.ID,
		ApproverID: approver,
		Decision:   models.DecisionRejected,
		DecidedAt:  time.Now().UTC(),
	}
	assert.ErrorIs(t, repo.CreateDecision(ctx, second), ErrDuplicate)

	other := &models.ApprovalDecision{
		RequestID:  request.ID,
		ApproverID: uuid.New(),
		Decision:   models.DecisionApproved,
		DecidedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateDecision(ctx, other))

	decisions, err := repo.ListDecisions(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, models.DecisionApproved, decisions[0].Decision)
}

func TestApprovalRepository_UpdateRequestWithStaleVersion(t *testing.T) {
	repo := NewApprovalRepository(testutil.NewTestDB(t))
	ctx := context.Background()
	request := storedRequest(t, repo)

	request.CurrentApprovals = 1
	require.NoError(t, repo.UpdateRequestWithVersion(ctx, request, 1))

	request.CurrentApprovals = 2
	assert.ErrorIs(t, repo.UpdateRequestWithVersion(ctx, request, 1), ErrVersionConflict)

	stored, err := repo.GetRequestByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentApprovals)
	assert.Equal(t, 2, stored.Version)
}
