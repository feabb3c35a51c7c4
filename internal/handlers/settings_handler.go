package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/services"
)

// SettingsHandler handles admin requests for the global approval settings
type SettingsHandler struct {
	service *services.SettingsService
	logger  *logrus.Entry
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(service *services.SettingsService, logger *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{service: service, logger: newLogger(logger, "settings-handler")}
}

// GetSettings returns the live settings version
// @Summary Get approval settings
// @Tags Settings
// @Produce json
// @Success 200 {object} models.ApprovalSettings
// @Router /api/v1/admin/approval-settings [get]
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.service.Current(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings installs a new settings version
// @Summary Update approval settings
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body services.UpdateSettingsInput true "Changes"
// @Success 200 {object} models.ApprovalSettings
// @Router /api/v1/admin/approval-settings [put]
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var input services.UpdateSettingsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.service.Update(c.Request.Context(), input, actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetSettingsHistory lists settings versions, newest first
// @Summary Approval settings history
// @Tags Settings
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Success 200 {array} models.ApprovalSettings
// @Router /api/v1/admin/approval-settings/history [get]
func (h *SettingsHandler) GetSettingsHistory(c *gin.Context) {
	limit, _ := pagination(c)

	versions, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}
