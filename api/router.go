package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/api/handler"
	"github.com/use-agent/pagegate/api/middleware"
	"github.com/use-agent/pagegate/cache"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/probe"
	"github.com/use-agent/pagegate/retrieval"
)

// Deps are the long-lived services the router serves from.
type Deps struct {
	Pool      *retrieval.Pool
	Prober    *probe.Prober
	Cache     *cache.Cache
	Version   string
	StartTime time.Time
}

// NewRouter builds the gin engine. Health stays outside auth so monitors can
// reach it; fetch, screenshot and probe sit behind auth (when enabled) and the
// per-key rate limiter. Background middleware goroutines stop when ctx ends.
func NewRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLog(slog.Default()))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: &models.ErrorDetail{Code: models.ErrCodeNotFound, Message: "no such endpoint: " + c.Request.URL.Path},
		})
	})

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(d.Pool, d.Cache, d.Version, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	s := handler.SettingsFrom(cfg)
	protected.POST("/fetch", handler.Fetch(d.Pool, d.Cache, s))
	protected.POST("/screenshot", handler.Screenshot(d.Pool, s))
	protected.POST("/probe", handler.Probe(d.Prober, s))

	return r
}
