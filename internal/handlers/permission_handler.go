package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/middleware"
	"share-approval-service/internal/models"
	"share-approval-service/internal/services"
)

// PermissionHandler handles bucket permission checks and grant management
type PermissionHandler struct {
	service *services.PermissionService
	// isServiceAdmin reports a platform-level override (rbac approvals:manage)
	isServiceAdmin func(c *gin.Context) bool
	logger         *logrus.Entry
}

// NewPermissionHandler creates a new PermissionHandler. isServiceAdmin may be nil.
func NewPermissionHandler(service *services.PermissionService, isServiceAdmin func(c *gin.Context) bool, logger *logrus.Logger) *PermissionHandler {
	return &PermissionHandler{
		service:        service,
		isServiceAdmin: isServiceAdmin,
		logger:         newLogger(logger, "permission-handler"),
	}
}

// GrantBucketPermissionInput grants a user or group a level on a bucket
type GrantBucketPermissionInput struct {
	SubjectType string                 `json:"subjectType" binding:"required,oneof=user group"`
	SubjectID   uuid.UUID              `json:"subjectId" binding:"required"`
	Level       models.PermissionLevel `json:"level"`
}

// GrantCredentialPermissionInput grants a machine credential a level on a bucket
type GrantCredentialPermissionInput struct {
	CredentialID uuid.UUID              `json:"credentialId" binding:"required"`
	Level        models.PermissionLevel `json:"level"`
}

// GroupMemberInput adds a user to a group
type GroupMemberInput struct {
	UserID uuid.UUID `json:"userId" binding:"required"`
}

// CheckUserPermission answers whether the caller holds a level on a bucket
// @Summary Check bucket permission
// @Tags Permissions
// @Produce json
// @Param id path string true "Bucket ID"
// @Param level query string true "Required level (read, read_write, admin)"
// @Success 200 {object} models.PermissionCheckResult
// @Router /api/v1/buckets/{id}/permissions/check [get]
func (h *PermissionHandler) CheckUserPermission(c *gin.Context) {
	bucketID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	required, ok := requiredLevel(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.service.CheckUser(c.Request.Context(), userID, bucketID, required)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CheckCredentialPermission answers whether the calling machine credential holds a level on a bucket
// @Summary Check bucket permission for a machine credential
// @Tags Permissions
// @Produce json
// @Param id path string true "Bucket ID"
// @Param level query string true "Required level (read, read_write, admin)"
// @Success 200 {object} models.PermissionCheckResult
// @Router /api/v1/machine/buckets/{id}/permissions/check [get]
func (h *PermissionHandler) CheckCredentialPermission(c *gin.Context) {
	bucketID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	required, ok := requiredLevel(c)
	if !ok {
		return
	}
	credentialID, ok := middleware.GetCredentialID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "credential is required"})
		return
	}

	result, err := h.service.CheckCredential(c.Request.Context(), credentialID, bucketID, required)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListBucketPermissions lists the user and group grants on a bucket
// @Summary List bucket grants
// @Tags Permissions
// @Produce json
// @Param id path string true "Bucket ID"
// @Success 200 {array} models.BucketPermission
// @Router /api/v1/admin/buckets/{id}/permissions [get]
func (h *PermissionHandler) ListBucketPermissions(c *gin.Context) {
	bucketID, ok := h.requireBucketAdmin(c)
	if !ok {
		return
	}

	grants, err := h.service.ListBucketGrants(c.Request.Context(), bucketID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, grants)
}

// GrantBucketPermission grants a user or group a level on a bucket
// @Summary Grant bucket permission
// @Tags Permissions
// @Accept json
// @Produce json
// @Param id path string true "Bucket ID"
// @Param request body GrantBucketPermissionInput true "Grant"
// @Success 201 {object} models.BucketPermission
// @Router /api/v1/admin/buckets/{id}/permissions [post]
func (h *PermissionHandler) GrantBucketPermission(c *gin.Context) {
	bucketID, ok := h.requireBucketAdmin(c)
	if !ok {
		return
	}
	h.grant(c, &bucketID)
}

// RevokeBucketPermission removes a grant from a bucket
// @Summary Revoke bucket permission
// @Tags Permissions
// @Param id path string true "Bucket ID"
// @Param permissionId path string true "Grant ID"
// @Success 204
// @Router /api/v1/admin/buckets/{id}/permissions/{permissionId} [delete]
func (h *PermissionHandler) RevokeBucketPermission(c *gin.Context) {
	bucketID, ok := h.requireBucketAdmin(c)
	if !ok {
		return
	}
	h.revoke(c, &bucketID)
}

// GrantGlobalPermission grants a user or group a level on every bucket
// @Summary Grant global permission
// @Tags Permissions
// @Accept json
// @Produce json
// @Param request body GrantBucketPermissionInput true "Grant"
// @Success 201 {object} models.BucketPermission
// @Router /api/v1/admin/permissions [post]
func (h *PermissionHandler) GrantGlobalPermission(c *gin.Context) {
	h.grant(c, nil)
}

// RevokeGlobalPermission removes any user or group grant
// @Summary Revoke permission
// @Tags Permissions
// @Param permissionId path string true "Grant ID"
// @Success 204
// @Router /api/v1/admin/permissions/{permissionId} [delete]
func (h *PermissionHandler) RevokeGlobalPermission(c *gin.Context) {
	h.revoke(c, nil)
}

func (h *PermissionHandler) grant(c *gin.Context, bucketID *uuid.UUID) {
	var input GrantBucketPermissionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		grant *models.BucketPermission
		err   error
	)
	if input.SubjectType == models.SubjectTypeGroup {
		grant, err = h.service.GrantGroup(c.Request.Context(), bucketID, input.SubjectID, input.Level, actorID(c))
	} else {
		grant, err = h.service.GrantUser(c.Request.Context(), bucketID, input.SubjectID, input.Level, actorID(c))
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (h *PermissionHandler) revoke(c *gin.Context, bucketID *uuid.UUID) {
	permissionID, ok := parseIDParam(c, "permissionId")
	if !ok {
		return
	}

	if err := h.service.RevokeBucketPermission(c.Request.Context(), bucketID, permissionID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantCredentialPermission grants a machine credential a level on a bucket
// @Summary Grant credential permission
// @Tags Permissions
// @Accept json
// @Produce json
// @Param id path string true "Bucket ID"
// @Param request body GrantCredentialPermissionInput true "Grant"
// @Success 201 {object} models.CredentialBucketPermission
// @Router /api/v1/admin/buckets/{id}/credential-permissions [post]
func (h *PermissionHandler) GrantCredentialPermission(c *gin.Context) {
	bucketID, ok := h.requireBucketAdmin(c)
	if !ok {
		return
	}

	var input GrantCredentialPermissionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grant, err := h.service.GrantCredential(c.Request.Context(), input.CredentialID, bucketID, input.Level, actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

// RevokeCredentialPermission removes a machine credential's grant on a bucket
// @Summary Revoke credential permission
// @Tags Permissions
// @Param id path string true "Bucket ID"
// @Param credentialId path string true "Credential ID"
// @Success 204
// @Router /api/v1/admin/buckets/{id}/credential-permissions/{credentialId} [delete]
func (h *PermissionHandler) RevokeCredentialPermission(c *gin.Context) {
	bucketID, ok := h.requireBucketAdmin(c)
	if !ok {
		return
	}
	credentialID, ok := parseIDParam(c, "credentialId")
	if !ok {
		return
	}

	if err := h.service.RevokeCredential(c.Request.Context(), credentialID, bucketID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddGroupMember adds a user to a group
// @Summary Add group member
// @Tags Permissions
// @Accept json
// @Param id path string true "Group ID"
// @Param request body GroupMemberInput true "Member"
// @Success 204
// @Router /api/v1/admin/groups/{id}/members [post]
func (h *PermissionHandler) AddGroupMember(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input GroupMemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.AddGroupMember(c.Request.Context(), groupID, input.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveGroupMember removes a user from a group
// @Summary Remove group member
// @Tags Permissions
// @Param id path string true "Group ID"
// @Param userId path string true "User ID"
// @Success 204
// @Router /api/v1/admin/groups/{id}/members/{userId} [delete]
func (h *PermissionHandler) RemoveGroupMember(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return
	}

	if err := h.service.RemoveGroupMember(c.Request.Context(), groupID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireBucketAdmin lets the request through when the caller administers the
// bucket or holds the platform override. It writes the response otherwise.
func (h *PermissionHandler) requireBucketAdmin(c *gin.Context) (uuid.UUID, bool) {
	bucketID, ok := parseIDParam(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	if h.isServiceAdmin != nil && h.isServiceAdmin(c) {
		return bucketID, true
	}

	userID, ok := currentUser(c)
	if !ok {
		return uuid.Nil, false
	}

	result, err := h.service.CheckUser(c.Request.Context(), userID, bucketID, models.PermissionAdmin)
	if err != nil {
		respondError(c, h.logger, err)
		return uuid.Nil, false
	}
	if !result.Allowed {
		respondError(c, h.logger, services.ErrPermissionDenied)
		return uuid.Nil, false
	}
	return bucketID, true
}

func requiredLevel(c *gin.Context) (models.PermissionLevel, bool) {
	level, err := models.ParsePermissionLevel(c.DefaultQuery("level", "read"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.PermissionNone, false
	}
	return level, true
}
