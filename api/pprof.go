package api

import (
	"net/http/pprof"
	"strings"

	"ethstack/internal/config"

	"github.com/gin-gonic/gin"
)

// RegisterPprof mounts the runtime profiles under cfg.PprofPath for admin
// tokens only. It does nothing when profiling is off.
func RegisterPprof(router *gin.Engine, cfg config.APIConfig) {
	if !cfg.Pprof {
		return
	}
	base := "/" + strings.Trim(cfg.PprofPath, "/")
	if base == "/" {
		base = "/debug/pprof"
	}
	group := router.Group(base, RequireRole(roleAdmin))
	group.GET("/", gin.WrapF(pprof.Index))
	group.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	group.GET("/profile", gin.WrapF(pprof.Profile))
	group.GET("/symbol", gin.WrapF(pprof.Symbol))
	group.POST("/symbol", gin.WrapF(pprof.Symbol))
	group.GET("/trace", gin.WrapF(pprof.Trace))
	// heap, goroutine, allocs and any other named runtime profile.
	group.GET("/:profile", func(c *gin.Context) {
		pprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
	})
}
