package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailsweep/internal/api"
	"mailsweep/pkg/rbac"
)

// ReadyCheck reports whether a backing service (Postgres, Redis) is reachable.
type ReadyCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	analysisHandler *api.AnalysisHandler,
	cleanupHandler *api.CleanupHandler,
	ruleHandler *api.RuleHandler,
	jwtSecret string,
	checks map[string]ReadyCheck,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/api")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		read := auth.Group("", RequirePermission(rbac.PermissionReadMail))
		read.GET("/senders", analysisHandler.Senders)
		read.GET("/suggestions", analysisHandler.Suggestions)
		read.GET("/domains", analysisHandler.Domains)
		read.GET("/attachments/large", analysisHandler.LargeAttachments)
		read.GET("/stats/velocity", analysisHandler.Velocity)
		read.GET("/stats/summary", analysisHandler.Summary)
		read.GET("/export.csv", analysisHandler.ExportCSV)
		read.GET("/progress", analysisHandler.Progress)
		read.POST("/plan", cleanupHandler.Plan)
		read.GET("/rules", ruleHandler.List)

		cleanup := auth.Group("", RequirePermission(rbac.PermissionCleanupMail))
		cleanup.POST("/cleanup", cleanupHandler.Cleanup)
		cleanup.POST("/execute", cleanupHandler.Execute)
		cleanup.POST("/rules/:name/run", ruleHandler.Run)

		auth.POST("/restore", RequirePermission(rbac.PermissionRestoreMail), cleanupHandler.Restore)

		write := auth.Group("", RequirePermission(rbac.PermissionWriteRules))
		write.PUT("/rules/:name", ruleHandler.Put)
		write.DELETE("/rules/:name", ruleHandler.Delete)
	}

	return &Router{Engine: r}
}

// Server wraps the engine in an http.Server so it can be shut down gracefully.
func (r *Router) Server(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
