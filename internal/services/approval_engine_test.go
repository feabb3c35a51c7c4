package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

func TestSubmit_FinanceShareNeedsTwoApprovals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	requester := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	bucketID := env.bucket(t, alice, bob)
	finance := env.category(t, nil)
	env.policy(t, "Finance", 1, 2, func(p *models.ApprovalPolicy) {
		p.CategoryIDs = categoryFilter(finance)
	})

	share := newShare(bucketID, requester)
	share.CategoryID = &finance
	result, err := env.gate.Submit(ctx, share)
	require.NoError(t, err)
	require.True(t, result.RequiresApproval)
	require.NotNil(t, result.Request)
	assert.Equal(t, "Finance", result.Request.PolicyName)
	assert.Equal(t, 2, result.Request.RequiredApprovals)
	assert.Equal(t, env.clock().Add(7*24*time.Hour), result.Request.ExpiresAt.UTC())

	requestID := result.Request.ID

	req, err := env.engine.Decide(ctx, requestID, alice, models.DecisionApproved, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, 1, req.CurrentApprovals)

	req, err = env.engine.Decide(ctx, requestID, bob, models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, req.Status)
	assert.Equal(t, 2, req.CurrentApprovals)
	require.NotNil(t, req.ProcessedAt)

	history, err := env.engine.GetHistory(ctx, requestID, requester)
	require.NoError(t, err)
	assert.Equal(t, []string{
		models.HistoryRequested,
		models.HistoryDecided,
		models.HistoryDecided,
		models.HistoryApproved,
	}, historyActions(history))

	decisions, err := env.engine.GetDecisions(ctx, requestID, alice)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)

	opened, decided, _ := env.notifier.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, decided)
}

func TestSubmit_PolicyWithoutApprovalOpensNothing(t *testing.T) {
	env := newTestEnv(t)
	bucketID := env.bucket(t)
	env.policy(t, "Public", 1, 1, func(p *models.ApprovalPolicy) {
		p.RequireApproval = false
	})

	result, err := env.gate.Submit(context.Background(), newShare(bucketID, uuid.New()))
	require.NoError(t, err)
	assert.False(t, result.RequiresApproval)
	assert.Nil(t, result.Request)
	assert.Equal(t, "Public", result.Policy.Name)

	var count int64
	require.NoError(t, env.db.Model(&models.ShareApprovalRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmit_FallbackGovernsUnmatchedShare(t *testing.T) {
	env := newTestEnv(t)
	bucketID := env.bucket(t)

	result, err := env.gate.Submit(context.Background(), newShare(bucketID, uuid.New()))
	require.NoError(t, err)
	require.NotNil(t, result.Request)
	assert.True(t, result.Policy.IsFallback)
	assert.Equal(t, 1, result.Request.RequiredApprovals)
}

func TestDecide_RejectionClosesRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	bucketID := env.bucket(t, alice, bob)
	env.policy(t, "Two", 1, 2, nil)

	result, err := env.gate.Submit(ctx, newShare(bucketID, uuid.New()))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	require.NoError(t, err)

	req, err := env.engine.Decide(ctx, result.Request.ID, bob, models.DecisionRejected, "contains salaries")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, req.Status)
	assert.Equal(t, 1, req.CurrentApprovals)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestNotPending)

	history, err := env.engine.GetHistory(ctx, result.Request.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryRejected, history[len(history)-1].Action)
	assert.Equal(t, "contains salaries", history[len(history)-1].Note)
}

func TestDecide_DuplicateVote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := uuid.New()
	bucketID := env.bucket(t, alice, uuid.New())
	env.policy(t, "Two", 1, 2, nil)

	result, err := env.gate.Submit(ctx, newShare(bucketID, uuid.New()))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	req, err := env.engine.GetRequest(ctx, result.Request.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, req.CurrentApprovals)
	assert.Equal(t, models.StatusPending, req.Status)
}

func TestDecide_InvalidDecision(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Decide(context.Background(), uuid.New(), uuid.New(), "maybe", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecide_UnknownRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Decide(context.Background(), uuid.New(), uuid.New(), models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestDecide_AfterDeadlineExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := uuid.New()
	bucketID := env.bucket(t, alice)
	hours := 24
	env.policy(t, "Short", 1, 1, func(p *models.ApprovalPolicy) {
		p.TimeoutHours = &hours
	})

	result, err := env.gate.Submit(ctx, newShare(bucketID, uuid.New()))
	require.NoError(t, err)

	env.advance(25 * time.Hour)

	req, err := env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestExpired)
	require.NotNil(t, req)
	assert.Equal(t, models.StatusExpired, req.Status)

	stored, err := env.engine.GetRequest(ctx, result.Request.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
	assert.Zero(t, stored.CurrentApprovals)

	decisions, err := env.engine.GetDecisions(ctx, result.Request.ID, alice)
	require.NoError(t, err)
	assert.Empty(t, decisions)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestNotPending)

	_, _, expired := env.notifier.counts()
	assert.Equal(t, 1, expired)
}

func TestDecide_RequesterOnClosedRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice, requester := uuid.New(), uuid.New()
	bucketID := env.bucket(t, alice)
	env.policy(t, "One", 1, 1, nil)

	result, err := env.gate.Submit(ctx, newShare(bucketID, requester))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionRejected, "")
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, result.Request.ID, requester, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestNotPending)
}

func TestDecide_IneligibleVoteExpiresOverdueRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice, requester, stranger := uuid.New(), uuid.New(), uuid.New()
	bucketID := env.bucket(t, alice)
	hours := 1
	env.policy(t, "Hourly", 1, 1, func(p *models.ApprovalPolicy) {
		p.TimeoutHours = &hours
	})

	first, err := env.gate.Submit(ctx, newShare(bucketID, requester))
	require.NoError(t, err)
	second, err := env.gate.Submit(ctx, newShare(bucketID, requester))
	require.NoError(t, err)

	env.advance(2 * time.Hour)

	req, err := env.engine.Decide(ctx, first.Request.ID, requester, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestExpired)
	require.NotNil(t, req)
	assert.Equal(t, models.StatusExpired, req.Status)

	_, err = env.engine.Decide(ctx, second.Request.ID, stranger, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	stored, err := env.engine.GetRequest(ctx, second.Request.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)

	_, _, expired := env.notifier.counts()
	assert.Equal(t, 2, expired)
}

func TestProcessExpired_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bucketID := env.bucket(t)
	for i := 0; i < 2; i++ {
		_, err := env.gate.Submit(ctx, newShare(bucketID, uuid.New()))
		require.NoError(t, err)
	}

	result, err := env.engine.ProcessExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Expired)

	env.advance(8 * 24 * time.Hour)

	result, err = env.engine.ProcessExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Expired: 2}, result)

	result, err = env.engine.ProcessExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	_, _, expired := env.notifier.counts()
	assert.Equal(t, 2, expired)
}

func TestDecide_ConcurrentVotesNeverOvershoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admins := make([]uuid.UUID, 5)
	for i := range admins {
		admins[i] = uuid.New()
	}
	bucketID := env.bucket(t, admins...)
	env.policy(t, "Three", 1, 3, nil)

	result, err := env.gate.Submit(ctx, newShare(bucketID, uuid.New()))
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		notPending int
	)
	for _, admin := range admins {
		wg.Add(1)
		go func(approver uuid.UUID) {
			defer wg.Done()
			_, err := env.engine.Decide(ctx, result.Request.ID, approver, models.DecisionApproved, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrRequestNotPending):
				notPending++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(admin)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 2, notPending)

	req, err := env.engine.GetRequest(ctx, result.Request.ID, admins[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, req.Status)
	assert.Equal(t, 3, req.CurrentApprovals)

	decisions, err := env.engine.GetDecisions(ctx, result.Request.ID, admins[0])
	require.NoError(t, err)
	assert.Len(t, decisions, 3)
}

func TestVisibilityAndEligibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	requester := uuid.New()
	listed := uuid.New()
	excludedAdmin := uuid.New()
	stranger := uuid.New()
	bucketID := env.bucket(t, excludedAdmin, requester)
	env.policy(t, "One", 1, 1, nil)

	share := newShare(bucketID, requester)
	share.ApproverIDs = []uuid.UUID{listed}
	result, err := env.gate.Submit(ctx, share)
	require.NoError(t, err)
	requestID := result.Request.ID

	_, err = env.engine.GetRequest(ctx, requestID, stranger)
	assert.ErrorIs(t, err, ErrRequestNotFound)
	_, err = env.engine.GetHistory(ctx, requestID, stranger)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	for _, viewer := range []uuid.UUID{requester, listed, excludedAdmin} {
		_, err := env.engine.GetRequest(ctx, requestID, viewer)
		assert.NoError(t, err)
	}

	_, err = env.engine.Decide(ctx, requestID, stranger, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = env.engine.Decide(ctx, requestID, requester, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrSelfApprovalNotAllowed)

	_, err = env.engine.Decide(ctx, requestID, excludedAdmin, models.DecisionApproved, "")
	assert.ErrorIs(t, err, ErrNotEligibleApprover)

	req, err := env.engine.Decide(ctx, requestID, listed, models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, req.Status)
}

func TestDecide_SelfApprovalWhenAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	requester := uuid.New()
	bucketID := env.bucket(t, requester)
	env.policy(t, "Self", 1, 1, func(p *models.ApprovalPolicy) {
		p.AllowSelfApproval = true
	})

	result, err := env.gate.Submit(ctx, newShare(bucketID, requester))
	require.NoError(t, err)

	req, err := env.engine.Decide(ctx, result.Request.ID, requester, models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, req.Status)
}

func TestOpen_ApproverListTooShort(t *testing.T) {
	env := newTestEnv(t)
	requester := uuid.New()
	bucketID := env.bucket(t)
	env.policy(t, "Two", 1, 2, nil)

	share := newShare(bucketID, requester)
	// the requester does not count without self-approval
	share.ApproverIDs = []uuid.UUID{uuid.New(), requester}

	_, err := env.gate.Submit(context.Background(), share)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpen_RejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	share := newShare(uuid.Nil, uuid.New())

	_, err := env.gate.Submit(context.Background(), share)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNotificationsSuppressedWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	current, err := env.settings.Current(ctx)
	require.NoError(t, err)
	off := false
	_, err = env.settings.Update(ctx, UpdateSettingsInput{
		ExpectedVersion:      current.Version,
		NotificationsEnabled: &off,
	}, nil)
	require.NoError(t, err)

	alice := uuid.New()
	bucketID := env.bucket(t, alice)
	result, err := env.gate.Submit(ctx, newShare(bucketID, uuid.New()))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, result.Request.ID, alice, models.DecisionApproved, "")
	require.NoError(t, err)

	opened, decided, expired := env.notifier.counts()
	assert.Zero(t, opened)
	assert.Zero(t, decided)
	assert.Zero(t, expired)
}

func TestListsAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	requester := uuid.New()
	alice := uuid.New()
	bucketID := env.bucket(t, alice)

	first, err := env.gate.Submit(ctx, newShare(bucketID, requester))
	require.NoError(t, err)
	_, err = env.gate.Submit(ctx, newShare(bucketID, requester))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, first.Request.ID, alice, models.DecisionApproved, "")
	require.NoError(t, err)

	pending, total, err := env.engine.ListPending(ctx, repository.PendingFilter{}, 20, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, pending, 1)

	mine, total, err := env.engine.ListMyRequests(ctx, requester, models.StatusApproved, 20, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, mine, 1)
	assert.Equal(t, first.Request.ID, mine[0].ID)

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.ApprovedToday)
}
