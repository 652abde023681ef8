package router

import (
	"astro_chat_server/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterAdminRoutes rg already carries JWTAuth.
func (rt *Router) RegisterAdminRoutes(rg *gin.RouterGroup) {
	adminGroup := rg.Group("/admin")
	adminGroup.Use(middleware.AdminOnly())
	{
		adminGroup.GET("/settings", rt.handlers.Setting.List)
		adminGroup.PUT("/settings", rt.handlers.Setting.Update)
	}
}
