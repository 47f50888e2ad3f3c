package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/update"
)

// VersionChecker reports the running and latest released versions.
type VersionChecker interface {
	Current() string
	Check(ctx context.Context, force bool) (*update.Info, error)
}

type versionResponse struct {
	Success bool `json:"success"`
	*update.Info
}

// Version returns a handler for GET /api/v1/version. force=true skips the
// cached release lookup.
func Version(vc VersionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := vc.Check(c.Request.Context(), c.Query("force") == "true")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, versionResponse{Success: true, Info: info})
	}
}
