package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/middleware"
	"share-approval-service/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrPolicyNotFound),
		errors.Is(err, services.ErrBucketNotFound),
		errors.Is(err, services.ErrCredentialNotFound),
		errors.Is(err, services.ErrCategoryNotFound),
		errors.Is(err, services.ErrGrantNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotEligibleApprover),
		errors.Is(err, services.ErrSelfApprovalNotAllowed),
		errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrRequestNotPending),
		errors.Is(err, services.ErrRequestExpired),
		errors.Is(err, services.ErrAlreadyDecided),
		errors.Is(err, services.ErrVersionConflict),
		errors.Is(err, services.ErrDuplicatePolicyName),
		errors.Is(err, services.ErrFallbackPolicyImmutable),
		errors.Is(err, services.ErrCategoryCycle):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Internal errors are logged and
// replaced by a generic message.
func respondError(c *gin.Context, logger *logrus.Entry, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(status, gin.H{"error": "An internal error occurred"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// currentUser returns the caller set by middleware.RequireUserID
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity is required"})
		return uuid.Nil, false
	}
	return userID, true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func newLogger(logger *logrus.Logger, component string) *logrus.Entry {
	if logger == nil {
		logger = logrus.New()
	}
	return logger.WithField("component", component)
}
