// Package server assembles the coordinator's gin engine: middleware chain,
// route table (§6.1), and the /metrics Prometheus handler. Grounded on the
// teacher's server.NewRouter, generalized from the user-facing API surface
// to the bot/job surface and extended with the metrics middleware and
// endpoint the teacher's router didn't carry.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/coordinator"
	"github.com/jobmesh/platform/internal/httpapi/middleware"
	"github.com/jobmesh/platform/internal/platform/logger"
	metricspkg "github.com/jobmesh/platform/internal/platform/metrics"
)

// RouterConfig bundles every handler and cross-cutting dependency the route
// table needs.
type RouterConfig struct {
	AuthHandler   *coordinator.AuthHandler
	BotsHandler   *coordinator.BotsHandler
	JobsHandler   *coordinator.JobsHandler
	AdminHandler  *coordinator.AdminHandler
	HealthHandler *coordinator.HealthHandler

	AuthSvc    *auth.Service
	AdminToken string
	Metrics    *metricspkg.Metrics
	Log        *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.Metrics(cfg.Metrics))
	router.Use(middleware.CORS())

	router.GET("/healthz", cfg.HealthHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/auth/token", cfg.AuthHandler.IssueToken)
	v1.GET("/auth/.well-known/jwks", cfg.AuthHandler.JWKS)

	registerGroup := v1.Group("/bots")
	registerGroup.Use(middleware.RequireBearer(cfg.AuthSvc, "register"))
	registerGroup.POST("/register", cfg.BotsHandler.Register)

	router.POST("/bots/heartbeat", cfg.BotsHandler.Heartbeat)
	router.GET("/bots", cfg.BotsHandler.List)
	router.GET("/bots/:id/stats", cfg.BotsHandler.GetStats)

	router.POST("/jobs/claim", cfg.JobsHandler.Claim)
	router.POST("/jobs/:id/start", cfg.JobsHandler.Start)
	router.POST("/jobs/:id/complete", cfg.JobsHandler.Complete)
	router.POST("/jobs/:id/fail", cfg.JobsHandler.Fail)
	router.GET("/jobs", cfg.JobsHandler.List)
	router.GET("/jobs/:id", cfg.JobsHandler.GetByID)

	admin := router.Group("")
	admin.Use(middleware.RequireAdminToken(cfg.AdminToken))
	admin.POST("/jobs/populate", cfg.JobsHandler.Populate)
	admin.POST("/jobs/:id/release", cfg.AdminHandler.ReleaseJob)
	admin.DELETE("/bots/:id", cfg.BotsHandler.Delete)
	admin.POST("/bots/:id/reset", cfg.BotsHandler.Reset)
	admin.POST("/bots/:id/restart", cfg.BotsHandler.Restart)
	admin.POST("/bots/:id/assign-operation", cfg.BotsHandler.AssignOperation)
	admin.POST("/admin/cleanup", cfg.AdminHandler.Cleanup)
	admin.POST("/admin/recover-jobs", cfg.AdminHandler.RecoverJobs)
	admin.POST("/admin/query", cfg.AdminHandler.Query)

	return router
}
