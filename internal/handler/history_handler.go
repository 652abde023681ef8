package handler

import (
	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/infrastructure/middleware"
	"astro_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

type HistoryHandler struct {
	historySvc service.HistoryService
}

func NewHistoryHandler(historySvc service.HistoryService) *HistoryHandler {
	return &HistoryHandler{historySvc: historySvc}
}

// SessionMessages GET /api/chat/sessions/:sessionId/messages?limit=
// Only participants of the session may read it.
func (h *HistoryHandler) SessionMessages(c *gin.Context) {
	var req request.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	messages, err := h.historySvc.SessionMessages(c.Request.Context(),
		c.GetString(middleware.ContextUserID), c.Param("sessionId"), req.Limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, messages)
}
