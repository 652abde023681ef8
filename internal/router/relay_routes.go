package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterRelayRoutes the websocket entry point.
// ws://host:port/socket or ws://host:port/socket?token=<access token>
func (rt *Router) RegisterRelayRoutes(r *gin.Engine) {
	r.GET("/socket", rt.handlers.Relay.Socket)
}
