package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"share-approval-service/internal/middleware"
	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
	"share-approval-service/internal/seeders"
	"share-approval-service/internal/services"
	"share-approval-service/internal/testutil"
)

const testUserHeader = "X-Test-User"

// HandlerTestSuite drives the HTTP layer against an in-memory database
type HandlerTestSuite struct {
	suite.Suite
	db           *gorm.DB
	permissions  *services.PermissionService
	router       *gin.Engine
	serviceAdmin bool
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.db = testutil.NewTestDB(s.T())
	s.Require().NoError(seeders.SeedDefaults(s.db, logger))
	s.serviceAdmin = false

	settingsService := services.NewSettingsService(repository.NewSettingsRepository(s.db), logger)
	categoryService := services.NewCategoryService(repository.NewCategoryRepository(s.db))
	policyService := services.NewPolicyService(repository.NewPolicyRepository(s.db), categoryService, logger)
	s.permissions = services.NewPermissionService(repository.NewPermissionRepository(s.db), nil, nil, logger)
	engine := services.NewApprovalEngine(repository.NewApprovalRepository(s.db), s.permissions, settingsService, nil, nil, logger)
	gate := services.NewShareGate(policyService, settingsService, categoryService, engine, logger)

	approvals := NewApprovalHandler(gate, engine, func(*gin.Context) bool { return s.serviceAdmin }, logger)
	policies := NewPolicyHandler(policyService, logger)
	settings := NewSettingsHandler(settingsService, logger)
	categories := NewCategoryHandler(categoryService, logger)
	permissions := NewPermissionHandler(s.permissions, func(*gin.Context) bool { return s.serviceAdmin }, logger)

	s.router = gin.New()
	s.router.GET("/health", HealthCheck)
	s.router.GET("/ready", ReadinessCheck(s.db))

	api := s.router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if user := c.GetHeader(testUserHeader); user != "" {
			c.Set("user_id", user)
		}
	})
	api.Use(middleware.RequireUserID())

	api.POST("/approvals/check", approvals.CheckApproval)
	api.POST("/approvals/shares", approvals.SubmitShare)
	api.GET("/approvals/pending", approvals.ListPendingRequests)
	api.GET("/approvals/stats", approvals.GetStats)
	api.GET("/approvals/my-requests", approvals.ListMyRequests)
	api.GET("/approvals/:id", approvals.GetRequest)
	api.GET("/approvals/:id/history", approvals.GetRequestHistory)
	api.GET("/approvals/:id/decisions", approvals.GetRequestDecisions)
	api.POST("/approvals/:id/approve", approvals.ApproveRequest)
	api.POST("/approvals/:id/reject", approvals.RejectRequest)
	api.GET("/buckets/:id/permissions/check", permissions.CheckUserPermission)

	admin := api.Group("/admin")
	admin.GET("/approval-policies", policies.ListPolicies)
	admin.POST("/approval-policies", policies.CreatePolicy)
	admin.GET("/approval-policies/:id", policies.GetPolicy)
	admin.PUT("/approval-policies/:id", policies.UpdatePolicy)
	admin.DELETE("/approval-policies/:id", policies.DeletePolicy)
	admin.GET("/approval-settings", settings.GetSettings)
	admin.PUT("/approval-settings", settings.UpdateSettings)
	admin.GET("/approval-settings/history", settings.GetSettingsHistory)
	admin.PUT("/categories/:id/parent", categories.SetParent)
	admin.POST("/groups/:id/members", permissions.AddGroupMember)
	admin.GET("/buckets/:id/permissions", permissions.ListBucketPermissions)
	admin.POST("/buckets/:id/permissions", permissions.GrantBucketPermission)
	admin.DELETE("/buckets/:id/permissions/:permissionId", permissions.RevokeBucketPermission)
}

func (s *HandlerTestSuite) do(method, path string, user uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(testUserHeader, user.String())
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerTestSuite) decode(rec *httptest.ResponseRecorder, out interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out))
}

func (s *HandlerTestSuite) bucketWithAdmins(admins ...uuid.UUID) uuid.UUID {
	bucket := &models.Bucket{Name: "handler-bucket", StorageProviderID: "s3-eu"}
	s.Require().NoError(s.db.Create(bucket).Error)
	for _, admin := range admins {
		_, err := s.permissions.GrantUser(context.Background(), &bucket.ID, admin, models.PermissionAdmin, nil)
		s.Require().NoError(err)
	}
	return bucket.ID
}

func (s *HandlerTestSuite) submit(requester, bucketID uuid.UUID) models.ShareApprovalRequest {
	rec := s.do(http.MethodPost, "/api/v1/approvals/shares", requester, map[string]interface{}{
		"shareId":    uuid.New(),
		"documentId": uuid.New(),
		"bucketId":   bucketID,
		"fileName":   "plan.docx",
		"fileSize":   1024,
		"fileType":   "docx",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var result struct {
		RequiresApproval bool                        `json:"requiresApproval"`
		Request          models.ShareApprovalRequest `json:"request"`
	}
	s.decode(rec, &result)
	s.Require().True(result.RequiresApproval)
	return result.Request
}

func (s *HandlerTestSuite) TestHealthAndReady() {
	rec := s.do(http.MethodGet, "/health", uuid.Nil, nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/ready", uuid.Nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerTestSuite) TestMissingIdentity() {
	rec := s.do(http.MethodGet, "/api/v1/approvals/my-requests", uuid.Nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerTestSuite) TestSubmitApproveFlow() {
	requester, approver := uuid.New(), uuid.New()
	bucketID := s.bucketWithAdmins(approver)

	request := s.submit(requester, bucketID)
	s.Equal(models.StatusPending, request.Status)
	s.Equal(requester, request.RequesterID)
	s.Equal(models.FallbackPolicyName, request.PolicyName)

	rec := s.do(http.MethodGet, "/api/v1/approvals/pending?approverId="+approver.String(), approver, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var pending struct {
		Data  []models.ShareApprovalRequest `json:"data"`
		Total int64                         `json:"total"`
		Limit int                           `json:"limit"`
	}
	s.decode(rec, &pending)
	s.EqualValues(1, pending.Total)
	s.Equal(defaultPageSize, pending.Limit)

	rec = s.do(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", approver, DecisionInput{Comment: "ok"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var decided models.ShareApprovalRequest
	s.decode(rec, &decided)
	s.Equal(models.StatusApproved, decided.Status)

	rec = s.do(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", approver, nil)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/approvals/"+request.ID.String()+"/history", requester, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history []models.ApprovalHistory
	s.decode(rec, &history)
	s.Len(history, 3)

	rec = s.do(http.MethodGet, "/api/v1/approvals/my-requests?status=approved", requester, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var mine struct {
		Total int64 `json:"total"`
	}
	s.decode(rec, &mine)
	s.EqualValues(1, mine.Total)
}

func (s *HandlerTestSuite) TestDecisionErrorMapping() {
	requester, approver, stranger := uuid.New(), uuid.New(), uuid.New()
	bucketID := s.bucketWithAdmins(approver)
	request := s.submit(requester, bucketID)
	base := "/api/v1/approvals/" + request.ID.String()

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, base, stranger, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, base+"/approve", stranger, nil).Code)
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, base+"/approve", requester, nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/approvals/not-a-uuid/approve", approver, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/v1/approvals/"+uuid.NewString()+"/approve", approver, nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/approvals/my-requests?status=cancelled", requester, nil).Code)

	rec := s.do(http.MethodPost, base+"/reject", approver, DecisionInput{Comment: "no"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var rejected models.ShareApprovalRequest
	s.decode(rec, &rejected)
	s.Equal(models.StatusRejected, rejected.Status)
}

func (s *HandlerTestSuite) TestSubmitValidation() {
	rec := s.do(http.MethodPost, "/api/v1/approvals/shares", uuid.New(), map[string]interface{}{
		"documentId": uuid.New(),
	})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerTestSuite) TestSubmitOnBehalfRequiresServiceCaller() {
	caller, other := uuid.New(), uuid.New()
	bucketID := s.bucketWithAdmins(uuid.New())
	share := func(extra map[string]interface{}) map[string]interface{} {
		body := map[string]interface{}{
			"shareId":    uuid.New(),
			"documentId": uuid.New(),
			"bucketId":   bucketID,
			"fileName":   "plan.docx",
			"fileSize":   1024,
		}
		for k, v := range extra {
			body[k] = v
		}
		return body
	}

	// A user cannot open a request for someone else that only they approve
	rec := s.do(http.MethodPost, "/api/v1/approvals/shares", caller, share(map[string]interface{}{
		"requesterId": other,
		"approverIds": []uuid.UUID{caller},
	}))
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/approvals/shares", caller, share(map[string]interface{}{
		"requesterId": other,
	}))
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/approvals/shares", caller, share(map[string]interface{}{
		"approverIds": []uuid.UUID{other},
	}))
	s.Equal(http.StatusForbidden, rec.Code)

	var count int64
	s.Require().NoError(s.db.Model(&models.ShareApprovalRequest{}).Count(&count).Error)
	s.Zero(count)

	s.serviceAdmin = true
	rec = s.do(http.MethodPost, "/api/v1/approvals/shares", caller, share(map[string]interface{}{
		"requesterId": other,
		"approverIds": []uuid.UUID{caller},
	}))
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var result struct {
		Request models.ShareApprovalRequest `json:"request"`
	}
	s.decode(rec, &result)
	s.Equal(other, result.Request.RequesterID)
}

func (s *HandlerTestSuite) TestCheckApprovalDoesNotOpenRequest() {
	rec := s.do(http.MethodPost, "/api/v1/approvals/check", uuid.New(), map[string]interface{}{
		"bucketId": uuid.New(),
		"fileSize": 10,
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var match struct {
		RequiresApproval bool `json:"requiresApproval"`
	}
	s.decode(rec, &match)
	s.True(match.RequiresApproval)

	var count int64
	s.Require().NoError(s.db.Model(&models.ShareApprovalRequest{}).Count(&count).Error)
	s.Zero(count)
}

func (s *HandlerTestSuite) TestPolicyLifecycle() {
	admin := uuid.New()

	rec := s.do(http.MethodPost, "/api/v1/admin/approval-policies", admin, map[string]interface{}{
		"name":     "Legal",
		"priority": 5,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var policy models.ApprovalPolicy
	s.decode(rec, &policy)

	rec = s.do(http.MethodPost, "/api/v1/admin/approval-policies", admin, map[string]interface{}{"name": "Legal"})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/admin/approval-policies/"+policy.ID.String(), admin, map[string]interface{}{
		"version":  policy.Version + 7,
		"priority": 3,
	})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/admin/approval-policies/"+policy.ID.String(), admin, map[string]interface{}{
		"version":  policy.Version,
		"priority": 3,
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/v1/admin/approval-policies/"+policy.ID.String(), admin, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/v1/admin/approval-policies/"+policy.ID.String(), admin, nil).Code)

	var fallback models.ApprovalPolicy
	s.Require().NoError(s.db.Where("is_fallback = ?", true).First(&fallback).Error)
	s.Equal(http.StatusConflict, s.do(http.MethodDelete, "/api/v1/admin/approval-policies/"+fallback.ID.String(), admin, nil).Code)
}

func (s *HandlerTestSuite) TestSettingsUpdate() {
	admin := uuid.New()

	rec := s.do(http.MethodGet, "/api/v1/admin/approval-settings", admin, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var current models.ApprovalSettings
	s.decode(rec, &current)

	rec = s.do(http.MethodPut, "/api/v1/admin/approval-settings", admin, map[string]interface{}{
		"expectedVersion":     current.Version,
		"forceApprovalForAll": true,
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/admin/approval-settings", admin, map[string]interface{}{
		"expectedVersion":     current.Version,
		"forceApprovalForAll": true,
		"forceApprovalReason": "quarter close",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPut, "/api/v1/admin/approval-settings", admin, map[string]interface{}{
		"expectedVersion":      current.Version,
		"notificationsEnabled": false,
	})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/approval-settings/history", admin, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history []models.ApprovalSettings
	s.decode(rec, &history)
	s.Len(history, 2)
}

func (s *HandlerTestSuite) TestCategoryCycle() {
	parent := &models.Category{Name: "Finance"}
	s.Require().NoError(s.db.Create(parent).Error)
	child := &models.Category{Name: "Payroll", ParentID: &parent.ID}
	s.Require().NoError(s.db.Create(child).Error)

	rec := s.do(http.MethodPut, "/api/v1/admin/categories/"+parent.ID.String()+"/parent", uuid.New(), SetParentInput{ParentID: &child.ID})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/admin/categories/"+child.ID.String()+"/parent", uuid.New(), SetParentInput{})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerTestSuite) TestBucketPermissions() {
	owner, member := uuid.New(), uuid.New()
	bucketID := s.bucketWithAdmins(owner)
	base := "/api/v1/admin/buckets/" + bucketID.String() + "/permissions"

	rec := s.do(http.MethodPost, base, member, GrantBucketPermissionInput{
		SubjectType: models.SubjectTypeUser,
		SubjectID:   member,
		Level:       models.PermissionAdmin,
	})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, base, owner, GrantBucketPermissionInput{
		SubjectType: models.SubjectTypeUser,
		SubjectID:   member,
		Level:       models.PermissionReadWrite,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var grant models.BucketPermission
	s.decode(rec, &grant)

	rec = s.do(http.MethodGet, "/api/v1/buckets/"+bucketID.String()+"/permissions/check?level=read_write", member, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var check models.PermissionCheckResult
	s.decode(rec, &check)
	s.True(check.Allowed)
	s.Equal(models.PermissionReadWrite, check.Have)

	rec = s.do(http.MethodGet, "/api/v1/buckets/"+bucketID.String()+"/permissions/check?level=owner", member, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/buckets/"+uuid.NewString()+"/permissions/check", member, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, base+"/"+grant.ID.String(), owner, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, base+"/"+grant.ID.String(), owner, nil).Code)

	s.serviceAdmin = true
	rec = s.do(http.MethodGet, base, member, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var grants []models.BucketPermission
	s.decode(rec, &grants)
	s.Len(grants, 1)
}

func (s *HandlerTestSuite) TestPagination() {
	tests := []struct {
		query         string
		limit, offset int
	}{
		{"", 20, 0},
		{"?limit=50&offset=10", 50, 10},
		{"?limit=0", 20, 0},
		{"?limit=500&offset=-4", 20, 0},
		{"?limit=abc", 20, 0},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
		limit, offset := pagination(c)
		s.Equal(tt.limit, limit, tt.query)
		s.Equal(tt.offset, offset, tt.query)
	}
}

func (s *HandlerTestSuite) TestErrorStatus() {
	s.Equal(http.StatusInternalServerError, errorStatus(context.DeadlineExceeded))
	s.Equal(http.StatusConflict, errorStatus(services.ErrRequestExpired))
	s.Equal(http.StatusForbidden, errorStatus(services.ErrPermissionDenied))
	s.Equal(http.StatusNotFound, errorStatus(services.ErrGrantNotFound))
}
