package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/actions"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/models"
	"github.com/use-agent/picketline/scraper"
)

// Health returns a handler for GET /api/v1/health.
//
// Degrades when the action upstream is offline or when more than 80% of
// browser pages are active. sc may be nil when browser rendering is off.
func Health(repo ActionRepo, ctl *controller.Controller, sc *scraper.Scraper, version string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		st := repo.Status()
		if st.Connection == actions.ConnectionOffline {
			status = "degraded"
		}

		resp := models.HealthResponse{
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Actions:  st,
			Sessions: ctl.SessionCount(),
			Version:  version,
		}
		if sc != nil {
			stats := sc.Stats()
			if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
				status = "degraded"
			}
			resp.PoolStats = stats
		}
		resp.Status = status
		c.JSON(http.StatusOK, resp)
	}
}
