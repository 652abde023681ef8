package handler

import (
	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

type SettingHandler struct {
	settingSvc service.SettingService
}

func NewSettingHandler(settingSvc service.SettingService) *SettingHandler {
	return &SettingHandler{settingSvc: settingSvc}
}

// List GET /api/admin/settings
func (h *SettingHandler) List(c *gin.Context) {
	settings, err := h.settingSvc.List(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, settings)
}

// Update PUT /api/admin/settings
// Responds with the full list after the upsert.
func (h *SettingHandler) Update(c *gin.Context) {
	var req request.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	settings, err := h.settingSvc.Update(c.Request.Context(), req.Settings)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, settings)
}

// Get GET /api/settings/:key
func (h *SettingHandler) Get(c *gin.Context) {
	setting, err := h.settingSvc.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, setting)
}
