// Package https_server builds the gin engine: middleware, static files and routes.
package https_server

import (
	"astro_chat_server/internal/config"
	"astro_chat_server/internal/handler"
	"astro_chat_server/internal/infrastructure/logger"
	"astro_chat_server/internal/infrastructure/metrics"
	"astro_chat_server/internal/infrastructure/middleware"
	"astro_chat_server/internal/router"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Init returns a configured engine. The caller owns the listener.
func Init(handlers *handler.Handlers, conf *config.Config) *gin.Engine {
	if conf.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	engine.Use(logger.GinLogger())
	engine.Use(logger.GinRecovery(true))
	engine.Use(metrics.HTTPMetricsMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	// off when a reverse proxy terminates TLS
	if conf.TLS {
		engine.Use(middleware.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port, conf.Mode != "release"))
	}

	engine.GET("/metrics", metrics.Handler())
	engine.Static("/static", conf.StaticFilePath)

	rt := router.NewRouter(handlers)
	rt.RegisterRoutes(engine)

	return engine
}
