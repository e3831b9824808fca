package api

import (
	"ethstack/internal/config"
	"ethstack/internal/logger"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	read := router.Group("/api", RequireRole(roleRead))
	read.GET("/interfaces", handlers.GetInterfaces)
	read.GET("/interfaces/:name", handlers.GetInterface)
	read.GET("/interfaces/:name/filters", handlers.GetFilters)
	read.GET("/interfaces/:name/dhcp", handlers.GetDHCP)
	read.GET("/stats", handlers.GetStats)
	read.GET("/events", handlers.GetEvents)

	ops := router.Group("/api", RequireRole(roleOps))
	ops.PUT("/interfaces/:name/flags", handlers.SetInterfaceFlags)
	ops.POST("/interfaces/:name/filters", handlers.AddFilter)
	ops.DELETE("/interfaces/:name/filters/:mac", handlers.DeleteFilter)
	ops.POST("/interfaces/:name/dhcp/start", handlers.StartDHCP)
	ops.POST("/interfaces/:name/dhcp/stop", handlers.StopDHCP)

	admin := router.Group("/api", RequireRole(roleAdmin))
	admin.POST("/interfaces/:name/dhcp/release", handlers.ReleaseDHCP)
}

// NewRouter builds the management API engine with its middleware chain.
func NewRouter(cfg config.APIConfig, log *logger.Logger, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(CompressMiddleware())
	router.Use(AuthMiddleware(cfg.Security, log))
	router.Use(AuditMiddleware(log))
	RegisterRoutes(router, handlers)
	RegisterPprof(router, cfg)
	return router
}
