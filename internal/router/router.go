// Package router registers every route on the gin engine.
package router

import (
	"astro_chat_server/internal/handler"
	"astro_chat_server/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

type Router struct {
	handlers *handler.Handlers
}

func NewRouter(handlers *handler.Handlers) *Router {
	return &Router{handlers: handlers}
}

// RegisterRoutes public routes first, then the JWT protected /api group.
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", rt.handlers.Relay.Health)
	rt.RegisterRelayRoutes(r)
	rt.RegisterAuthRoutes(r)

	r.POST("/upload", middleware.JWTAuth(), rt.handlers.Upload.Upload)

	api := r.Group("/api")
	api.Use(middleware.JWTAuth())
	{
		rt.RegisterChatRoutes(api)
		rt.RegisterAdminRoutes(api)
	}
}
