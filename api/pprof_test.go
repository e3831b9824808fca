package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ethstack/internal/config"

	"github.com/gin-gonic/gin"
)

func pprofRouter(cfg config.APIConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(cfg.Security, nil))
	RegisterPprof(router, cfg)
	return router
}

func pprofGet(router *gin.Engine, path string, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRegisterPprofCustomPath(t *testing.T) {
	router := pprofRouter(config.APIConfig{Pprof: true, PprofPath: "ops/profiles/"})

	rr := pprofGet(router, "/ops/profiles/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "goroutine") {
		t.Fatalf("expected pprof index content")
	}
	rr = pprofGet(router, "/ops/profiles/goroutine?debug=1", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "goroutine profile") {
		t.Fatalf("expected goroutine dump, got %d", rr.Code)
	}
	if rr := pprofGet(router, "/debug/pprof/", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected default path unmounted, got %d", rr.Code)
	}
}

func TestRegisterPprofDisabled(t *testing.T) {
	router := pprofRouter(config.APIConfig{PprofPath: "/debug/pprof"})
	if rr := pprofGet(router, "/debug/pprof/", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with profiling off, got %d", rr.Code)
	}
}

func TestRegisterPprofRequiresAdmin(t *testing.T) {
	router := pprofRouter(config.APIConfig{
		Pprof: true,
		Security: config.SecurityConfig{
			Enabled:     true,
			RequireAuth: true,
			Tokens: []config.TokenConfig{
				{Role: "ops", Value: "token-ops"},
				{Role: "admin", Value: "token-admin"},
			},
		},
	})
	if rr := pprofGet(router, "/debug/pprof/heap", "token-ops"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ops, got %d", rr.Code)
	}
	if rr := pprofGet(router, "/debug/pprof/heap", "token-admin"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}
