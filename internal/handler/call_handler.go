package handler

import (
	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/infrastructure/middleware"
	"astro_chat_server/internal/service"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	callSvc service.CallService
}

func NewCallHandler(callSvc service.CallService) *CallHandler {
	return &CallHandler{callSvc: callSvc}
}

// List GET /api/calls?participant_id=&limit=
// participant_id defaults to the caller; admins may list anyone.
func (h *CallHandler) List(c *gin.Context) {
	var req request.ListCallsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}

	self := c.GetString(middleware.ContextUserID)
	participantID := req.ParticipantId
	if participantID == "" {
		participantID = self
	}
	if participantID != self && c.GetString(middleware.ContextRole) != constants.RoleAdmin {
		HandleError(c, errorx.New(errorx.CodeForbidden, "cannot list calls of another participant"))
		return
	}

	calls, err := h.callSvc.ListByParticipant(participantID, req.Limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, calls)
}
