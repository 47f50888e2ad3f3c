package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/models"
)

// ActionRepo is the labor action repository surface the API needs.
type ActionRepo interface {
	Actions(ctx context.Context) []models.LaborAction
	Refresh(ctx context.Context) ([]models.LaborAction, error)
	Status() models.ActionsStatus
	ClearCache(ctx context.Context) error
}

// ListActions returns a handler for GET /api/v1/actions.
func ListActions(repo ActionRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := repo.Actions(c.Request.Context())
		c.JSON(http.StatusOK, models.ActionsResponse{
			Success: true,
			Actions: list,
			Count:   len(list),
			Status:  repo.Status(),
		})
	}
}

// RefreshActions returns a handler for POST /api/v1/actions/refresh.
// It bypasses the cache TTL and fetches from the upstream now.
func RefreshActions(repo ActionRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := repo.Refresh(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ActionsResponse{
			Success: true,
			Actions: list,
			Count:   len(list),
			Status:  repo.Status(),
		})
	}
}

// ClearActionCache returns a handler for DELETE /api/v1/actions/cache.
func ClearActionCache(repo ActionRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := repo.ClearCache(c.Request.Context()); err != nil {
			respondError(c, models.NewPicketError(models.ErrCodeInternal, "failed to clear action cache", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
