package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
	"share-approval-service/internal/testutil"
)

// recordingNotifier captures notifications for assertions
type recordingNotifier struct {
	mu      sync.Mutex
	opened  []uuid.UUID
	decided []string
	expired []uuid.UUID
}

func (n *recordingNotifier) RequestOpened(_ context.Context, request *models.ShareApprovalRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, request.ID)
}

func (n *recordingNotifier) RequestDecided(_ context.Context, request *models.ShareApprovalRequest, _ *models.ApprovalDecision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decided = append(n.decided, request.Status)
}

func (n *recordingNotifier) RequestExpired(_ context.Context, request *models.ShareApprovalRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, request.ID)
}

func (n *recordingNotifier) counts() (int, int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.opened), len(n.decided), len(n.expired)
}

// testEnv wires every service over one in-memory database
type testEnv struct {
	db         *gorm.DB
	engine     *ApprovalEngine
	gate       *ShareGate
	perms      *PermissionService
	settings   *SettingsService
	policies   *PolicyService
	categories *CategoryService
	notifier   *recordingNotifier

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db := testutil.NewTestDB(t)
	env := &testEnv{
		db:       db,
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	env.settings = NewSettingsService(repository.NewSettingsRepository(db), logger)
	env.categories = NewCategoryService(repository.NewCategoryRepository(db))
	env.policies = NewPolicyService(repository.NewPolicyRepository(db), env.categories, logger)
	env.perms = NewPermissionService(repository.NewPermissionRepository(db), nil, nil, logger)
	env.engine = NewApprovalEngine(repository.NewApprovalRepository(db), env.perms, env.settings, env.notifier, nil, logger)
	env.engine.SetClock(env.clock)
	env.gate = NewShareGate(env.policies, env.settings, env.categories, env.engine, logger)

	fallback := models.NewFallbackPolicy()
	require.NoError(t, db.Create(fallback).Error)

	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

// bucket creates a bucket and makes every admin an approval authority on it
func (e *testEnv) bucket(t *testing.T, admins ...uuid.UUID) uuid.UUID {
	t.Helper()
	b := &models.Bucket{Name: "bucket-" + uuid.NewString()[:8], StorageProviderID: "s3-eu"}
	require.NoError(t, e.db.Create(b).Error)
	for _, admin := range admins {
		_, err := e.perms.GrantUser(context.Background(), &b.ID, admin, models.PermissionAdmin, nil)
		require.NoError(t, err)
	}
	return b.ID
}

func (e *testEnv) category(t *testing.T, parent *uuid.UUID) uuid.UUID {
	t.Helper()
	c := &models.Category{Name: "category-" + uuid.NewString()[:8], ParentID: parent}
	require.NoError(t, e.db.Create(c).Error)
	return c.ID
}

// policy stores an active policy requiring approval
func (e *testEnv) policy(t *testing.T, name string, priority, required int, mutate func(p *models.ApprovalPolicy)) *models.ApprovalPolicy {
	t.Helper()
	p := &models.ApprovalPolicy{
		Name:              name,
		Priority:          priority,
		IsActive:          true,
		RequireApproval:   true,
		RequiredApprovals: &required,
		Version:           1,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func newShare(bucketID, requesterID uuid.UUID) OpenShareInput {
	return OpenShareInput{
		ShareID:           uuid.New(),
		DocumentID:        uuid.New(),
		BucketID:          bucketID,
		StorageProviderID: "s3-eu",
		FileName:          "report.pdf",
		FileSize:          2048,
		FileType:          "pdf",
		ShareURL:          "/s/abc123",
		RequesterID:       requesterID,
		RequesterName:     "Requester",
	}
}

func categoryFilter(ids ...uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func historyActions(entries []models.ApprovalHistory) []string {
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}
