package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterChatRoutes participant facing reads under /api.
func (rt *Router) RegisterChatRoutes(rg *gin.RouterGroup) {
	rg.GET("/settings/:key", rt.handlers.Setting.Get)
	rg.GET("/chat/sessions/:sessionId/messages", rt.handlers.History.SessionMessages)
	rg.GET("/calls", rt.handlers.Call.List)
	rg.GET("/rtc/ice-servers", rt.handlers.Relay.ICEServers)
	rg.GET("/relay/online/:id", rt.handlers.Relay.Online)
}
