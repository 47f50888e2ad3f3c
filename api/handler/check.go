package handler

import (
	"net/http"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/models"
)

// Check returns a handler for POST /api/v1/check.
//
// With format=markdown a matched action is also rendered as Markdown, the
// form agents and chat surfaces consume.
func Check(ctl *controller.Controller, conv *converter.Converter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		res := ctl.Check(c.Request.Context(), req.URL)
		resp := models.CheckResponse{
			Success: true,
			URL:     req.URL,
			Matched: res.Matched(),
		}
		if res.Matched() {
			resp.Mode = res.Mode
			resp.BlockURL = res.BlockURL
			resp.Action = res.Action
			if req.Format == "markdown" {
				md, err := card.ActionMarkdown(conv, res.Action)
				if err != nil {
					respondError(c, models.NewPicketError(models.ErrCodeInternal, "failed to render markdown", err))
					return
				}
				resp.Markdown = md
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
