package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/models"
)

// BlockPage returns a handler for GET /block, the page a blocked site
// redirects to. Query: url (required), action (optional id; without it the
// url is matched again).
func BlockPage(ctl *controller.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Query("url")
		if target == "" {
			respondError(c, models.NewPicketError(models.ErrCodeInvalidInput, "url is required", nil))
			return
		}

		var action *models.LaborAction
		if id := c.Query("action"); id != "" {
			action = ctl.ActionByID(c.Request.Context(), id)
		}
		if action == nil {
			action = ctl.Check(c.Request.Context(), target).Action
		}

		page, err := card.RenderBlockPage(action, target, controller.BypassURL(target))
		if err != nil {
			respondError(c, models.NewPicketError(models.ErrCodeInternal, "failed to render block page", err))
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	}
}
