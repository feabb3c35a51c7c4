package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/services"
)

// CategoryHandler handles category tree changes
type CategoryHandler struct {
	service *services.CategoryService
	logger  *logrus.Entry
}

// NewCategoryHandler creates a new CategoryHandler
func NewCategoryHandler(service *services.CategoryService, logger *logrus.Logger) *CategoryHandler {
	return &CategoryHandler{service: service, logger: newLogger(logger, "category-handler")}
}

// SetParentInput moves a category; a nil parent makes it a root
type SetParentInput struct {
	ParentID *uuid.UUID `json:"parentId"`
}

// SetParent moves a category under a new parent
// @Summary Move category
// @Tags Categories
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param request body SetParentInput true "New parent"
// @Success 200 {object} models.Category
// @Router /api/v1/admin/categories/{id}/parent [put]
func (h *CategoryHandler) SetParent(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input SetParentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category, err := h.service.SetParent(c.Request.Context(), id, input.ParentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, category)
}
