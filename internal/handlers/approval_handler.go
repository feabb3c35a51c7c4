package handlers

import (
	"net/http"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/middleware"
	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
	"share-approval-service/internal/services"
)

// ApprovalHandler handles HTTP requests for share approvals
type ApprovalHandler struct {
	gate   *services.ShareGate
	engine *services.ApprovalEngine

	// isServiceCaller reports a caller allowed to submit shares on behalf of
	// other users and to name their approvers
	isServiceCaller func(c *gin.Context) bool
	logger          *logrus.Entry
}

// NewApprovalHandler creates a new ApprovalHandler. isServiceCaller may be nil.
func NewApprovalHandler(gate *services.ShareGate, engine *services.ApprovalEngine, isServiceCaller func(c *gin.Context) bool, logger *logrus.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		gate:            gate,
		engine:          engine,
		isServiceCaller: isServiceCaller,
		logger:          newLogger(logger, "approval-handler"),
	}
}

// DecisionInput is the body of approve and reject calls
type DecisionInput struct {
	Comment string `json:"comment"`
}

// CheckApproval reports whether a share would need approval
// @Summary Check if a share requires approval
// @Tags Approvals
// @Accept json
// @Produce json
// @Param request body services.ShareAttributes true "Share attributes"
// @Success 200 {object} services.MatchResult
// @Router /api/v1/approvals/check [post]
func (h *ApprovalHandler) CheckApproval(c *gin.Context) {
	var attrs services.ShareAttributes
	if err := c.ShouldBindJSON(&attrs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if attrs.RequesterID == uuid.Nil {
		if userID, ok := middleware.GetUserID(c); ok {
			attrs.RequesterID = userID
		}
	}

	result, err := h.gate.Evaluate(c.Request.Context(), attrs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SubmitShare evaluates a new share and opens an approval request when required
// @Summary Submit a document share for approval
// @Tags Approvals
// @Accept json
// @Produce json
// @Param request body services.OpenShareInput true "Share"
// @Success 201 {object} services.SubmitResult
// @Success 200 {object} services.SubmitResult
// @Router /api/v1/approvals/shares [post]
func (h *ApprovalHandler) SubmitShare(c *gin.Context) {
	var input services.OpenShareInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	callerID, ok := currentUser(c)
	if !ok {
		return
	}

	// Only trusted services submit on behalf of a user or name approvers
	if h.isServiceCaller != nil && h.isServiceCaller(c) {
		if input.RequesterID == uuid.Nil {
			input.RequesterID = callerID
		}
	} else {
		if input.RequesterID != uuid.Nil && input.RequesterID != callerID {
			c.JSON(http.StatusForbidden, gin.H{"error": "shares can only be submitted for the calling user"})
			return
		}
		if len(input.ApproverIDs) > 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "approverIds can only be set by a trusted service"})
			return
		}
		input.RequesterID = callerID
	}
	if input.RequesterName == "" {
		input.RequesterName = gosharedmw.GetActorInfo(c).ActorName
	}

	result, err := h.gate.Submit(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if result.Request != nil {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// GetRequest retrieves a share approval request by ID
// @Summary Get approval request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.ShareApprovalRequest
// @Router /api/v1/approvals/{id} [get]
func (h *ApprovalHandler) GetRequest(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	request, err := h.engine.GetRequest(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, request)
}

// ListPendingRequests lists pending share approval requests
// @Summary List pending approval requests
// @Tags Approvals
// @Produce json
// @Param approverId query string false "Only requests this approver may vote on"
// @Param bucketId query string false "Bucket filter"
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/pending [get]
func (h *ApprovalHandler) ListPendingRequests(c *gin.Context) {
	var filter repository.PendingFilter
	if raw := c.Query("approverId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approverId"})
			return
		}
		filter.ApproverID = &id
	}
	if raw := c.Query("bucketId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucketId"})
			return
		}
		filter.BucketID = &id
	}

	limit, offset := pagination(c)

	requests, total, err := h.engine.ListPending(c.Request.Context(), filter, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   requests,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListMyRequests lists requests submitted by the current user
// @Summary List my submitted requests
// @Tags Approvals
// @Produce json
// @Param status query string false "Status filter"
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/my-requests [get]
func (h *ApprovalHandler) ListMyRequests(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status := c.Query("status")
	if status != "" && !models.IsValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	limit, offset := pagination(c)

	requests, total, err := h.engine.ListMyRequests(c.Request.Context(), userID, status, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   requests,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetStats returns aggregate request counts
// @Summary Approval statistics
// @Tags Approvals
// @Produce json
// @Success 200 {object} repository.RequestStats
// @Router /api/v1/approvals/stats [get]
func (h *ApprovalHandler) GetStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ApproveRequest records an approve vote
// @Summary Approve request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body DecisionInput false "Comment"
// @Success 200 {object} models.ShareApprovalRequest
// @Router /api/v1/approvals/{id}/approve [post]
func (h *ApprovalHandler) ApproveRequest(c *gin.Context) {
	h.decide(c, models.DecisionApproved)
}

// RejectRequest records a reject vote, which closes the request
// @Summary Reject request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body DecisionInput false "Comment"
// @Success 200 {object} models.ShareApprovalRequest
// @Router /api/v1/approvals/{id}/reject [post]
func (h *ApprovalHandler) RejectRequest(c *gin.Context) {
	h.decide(c, models.DecisionRejected)
}

func (h *ApprovalHandler) decide(c *gin.Context, decision string) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var body DecisionInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	request, err := h.engine.Decide(c.Request.Context(), id, userID, decision, body.Comment)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"requestID": id,
		"decision":  decision,
		"actor":     gosharedmw.GetActorInfo(c).ActorName,
		"status":    request.Status,
	}).Info("Decision recorded")

	c.JSON(http.StatusOK, request)
}

// GetRequestHistory retrieves the audit history for a request
// @Summary Get request history
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} models.ApprovalHistory
// @Router /api/v1/approvals/{id}/history [get]
func (h *ApprovalHandler) GetRequestHistory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	history, err := h.engine.GetHistory(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// GetRequestDecisions retrieves the votes cast on a request
// @Summary Get request decisions
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} models.ApprovalDecision
// @Router /api/v1/approvals/{id}/decisions [get]
func (h *ApprovalHandler) GetRequestDecisions(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	decisions, err := h.engine.GetDecisions(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, decisions)
}
