package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/cache"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/models"
)

// Rewrite returns a handler for POST /api/v1/rewrite.
//
// Orchestration flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when max_age is set.
//  3. Load the page: supplied HTML, or a fetch     (records fetch_ms)
//  4. Controller.Rewrite → banner, cards, logos     (records rewrite_ms)
//  5. Fill Timing, store in cache, return 200.
func Rewrite(ctl *controller.Controller, f Fetcher, cc *cache.Cache, cfg config.RenderConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.RewriteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults(cfg.DefaultFetchMode)

		// ── 2. Cache lookup ─────────────────────────────────────────
		var cacheKey string
		if cc != nil && req.MaxAge > 0 {
			mode := req.Mode
			if mode == "" {
				mode = ctl.Mode()
			}
			cacheKey = cache.Key(cache.KeyParts{
				URL:       req.URL,
				Mode:      mode,
				InjectAds: ctl.InjectAds(req.InjectAds),
				FetchMode: req.FetchMode,
				BlockAds:  req.BlockAds,
				HTML:      req.HTML,
			})
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				hitResp := *cached
				hitResp.CacheStatus = "hit"
				hitResp.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, hitResp)
				return
			}
		}

		// ── 3. Load page ────────────────────────────────────────────
		page, err := loadPage(c.Request.Context(), f, &req.PageSource, cfg)
		if err != nil {
			respondError(c, err)
			return
		}

		// ── 4. Rewrite ──────────────────────────────────────────────
		rewriteStart := time.Now()
		res, err := ctl.Rewrite(c.Request.Context(), controller.RewriteInput{
			URL:       page.URL,
			HTML:      page.HTML,
			Geometry:  page.Geometry,
			Mode:      req.Mode,
			InjectAds: req.InjectAds,
		})
		rewriteMs := time.Since(rewriteStart).Milliseconds()
		if err != nil {
			respondError(c, err)
			return
		}

		// ── 5. Respond ──────────────────────────────────────────────
		resp := &models.RewriteResponse{
			Success:     true,
			URL:         req.URL,
			FinalURL:    page.FinalURL,
			Mode:        res.Mode,
			Blocked:     res.Blocked,
			RedirectURL: res.RedirectURL,
			Action:      res.Action,
			HTML:        res.HTML,
			Stats:       res.Stats,
			EngineUsed:  page.EngineUsed,
			Timing: models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				FetchMs:   page.FetchMs,
				RewriteMs: rewriteMs,
			},
		}
		if cacheKey != "" {
			cc.Set(cacheKey, resp)
			miss := *resp
			miss.CacheStatus = "miss"
			c.JSON(http.StatusOK, miss)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
