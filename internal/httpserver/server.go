package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/salesview/internal/auth"
	"github.com/PratikDhanave/salesview/internal/config"
	"github.com/PratikDhanave/salesview/internal/eventlog"
	"github.com/PratikDhanave/salesview/internal/handlers"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the router exposes.
type Deps struct {
	Log     eventlog.Log
	Sync    handlers.SyncRunner
	Views   handlers.Views
	Metrics handlers.MetricsReader
	Rebuild handlers.Rebuilder
	// Ready lists dependencies checked by /ready.
	Ready  map[string]Pinger
	Logger *slog.Logger
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready
// Authenticated: views, /metrics
// Admin subjects only: /sync, /aggregates, /admin
func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms storage dependencies are reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for name, p := range d.Ready {
			if err := p.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "dependency": name, "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Auth group establishes the acting subject via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	handlers.RegisterViewRoutes(authGroup, d.Views)
	handlers.RegisterMetricRoutes(authGroup, d.Metrics, cfg.AdminSubjects)

	adminGroup := authGroup.Group("/")
	adminGroup.Use(auth.RequireSubjects(cfg.AdminSubjects))

	handlers.RegisterSyncRoutes(adminGroup, d.Sync)
	handlers.RegisterAdminRoutes(adminGroup, d.Log, d.Rebuild)

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("subject_id", auth.SubjectID(c)),
			slog.Duration("took", time.Since(start)))
	}
}
