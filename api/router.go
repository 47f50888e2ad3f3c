package api

import (
	"context"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/api/handler"
	"github.com/use-agent/picketline/api/middleware"
	"github.com/use-agent/picketline/cache"
	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/scraper"
)

// Deps are the services behind the routes. Fetcher, Scraper, Cache, AdRules
// and Versions may be nil; the matching features are then disabled.
type Deps struct {
	Controller *controller.Controller
	Actions    handler.ActionRepo
	Fetcher    handler.Fetcher
	Scraper    *scraper.Scraper
	Cache      *cache.Cache
	AdRules    *adnet.Registry
	Versions   handler.VersionChecker
	Markdown   *converter.Converter

	// BlockPage is the absolute URL of GET /block.
	BlockPage string
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health, the block page and metrics stay outside auth: probes, browsers
// following a redirect and scrapers carry no API key.
func NewRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	if d.Markdown == nil {
		d.Markdown = card.NewMarkdownConverter()
	}
	if d.StartTime.IsZero() {
		d.StartTime = time.Now()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/block", handler.BlockPage(d.Controller))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(d.Actions, d.Controller, d.Scraper, cfg.Update.Version, d.StartTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Matching
	protected.POST("/check", handler.Check(d.Controller, d.Markdown))
	protected.GET("/rules", handler.Rules(d.Controller, d.AdRules, d.BlockPage))

	// Actions
	protected.GET("/actions", handler.ListActions(d.Actions))
	protected.POST("/actions/refresh", handler.RefreshActions(d.Actions))
	protected.DELETE("/actions/cache", handler.ClearActionCache(d.Actions))

	// Rewrite
	protected.POST("/rewrite", handler.Rewrite(d.Controller, d.Fetcher, d.Cache, cfg.Render))

	// Sessions
	protected.POST("/sessions", handler.OpenSession(d.Controller, d.Fetcher, cfg.Render))
	protected.GET("/sessions/:id", handler.GetSession(d.Controller))
	protected.POST("/sessions/:id/navigate", handler.NavigateSession(d.Controller, d.Fetcher, cfg.Render))
	protected.POST("/sessions/:id/mutations", handler.MutateSession(d.Controller))
	protected.DELETE("/sessions/:id", handler.CloseSession(d.Controller))

	// Version
	if d.Versions != nil {
		protected.GET("/version", handler.Version(d.Versions))
	}

	return r
}
