package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/middleware"
	"share-approval-service/internal/repository"
	"share-approval-service/internal/services"
)

// PolicyHandler handles admin requests for approval policies
type PolicyHandler struct {
	service *services.PolicyService
	logger  *logrus.Entry
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(service *services.PolicyService, logger *logrus.Logger) *PolicyHandler {
	return &PolicyHandler{service: service, logger: newLogger(logger, "policy-handler")}
}

// ListPolicies lists approval policies in evaluation order
// @Summary List approval policies
// @Tags Policies
// @Produce json
// @Param isActive query bool false "Active filter"
// @Param name query string false "Name contains"
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/approval-policies [get]
func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	var filter repository.PolicyFilter
	if raw := c.Query("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid isActive"})
			return
		}
		filter.IsActive = &active
	}
	filter.Name = c.Query("name")

	limit, offset := pagination(c)

	policies, total, err := h.service.ListPolicies(c.Request.Context(), filter, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   policies,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetPolicy retrieves a policy by ID
// @Summary Get approval policy
// @Tags Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} models.ApprovalPolicy
// @Router /api/v1/admin/approval-policies/{id} [get]
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	policy, err := h.service.GetPolicy(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// CreatePolicy creates an approval policy
// @Summary Create approval policy
// @Tags Policies
// @Accept json
// @Produce json
// @Param request body services.CreatePolicyInput true "Policy"
// @Success 201 {object} models.ApprovalPolicy
// @Router /api/v1/admin/approval-policies [post]
func (h *PolicyHandler) CreatePolicy(c *gin.Context) {
	var input services.CreatePolicyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.service.CreatePolicy(c.Request.Context(), input, actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, policy)
}

// UpdatePolicy updates a policy guarded by its version
// @Summary Update approval policy
// @Tags Policies
// @Accept json
// @Produce json
// @Param id path string true "Policy ID"
// @Param request body services.UpdatePolicyInput true "Changes"
// @Success 200 {object} models.ApprovalPolicy
// @Router /api/v1/admin/approval-policies/{id} [put]
func (h *PolicyHandler) UpdatePolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input services.UpdatePolicyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.service.UpdatePolicy(c.Request.Context(), id, input, actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// DeletePolicy deletes a policy; the fallback policy cannot be deleted
// @Summary Delete approval policy
// @Tags Policies
// @Param id path string true "Policy ID"
// @Success 204
// @Router /api/v1/admin/approval-policies/{id} [delete]
func (h *PolicyHandler) DeletePolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeletePolicy(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// actorID returns the caller for audit columns, or nil when unknown
func actorID(c *gin.Context) *uuid.UUID {
	if id, ok := middleware.GetUserID(c); ok {
		return &id
	}
	return nil
}
