package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/models"
)

// OpenSession returns a handler for POST /api/v1/sessions.
func OpenSession(ctl *controller.Controller, f Fetcher, cfg config.RenderConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults(cfg.DefaultFetchMode)

		page, err := loadPage(c.Request.Context(), f, &req.PageSource, cfg)
		if err != nil {
			respondError(c, err)
			return
		}
		s, err := ctl.OpenSession(c.Request.Context(), controller.SessionInput{
			PageInput:  page.PageInput,
			Mode:       req.Mode,
			InjectAds:  req.InjectAds,
			WebhookURL: req.WebhookURL,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, http.StatusCreated, s)
	}
}

// GetSession returns a handler for GET /api/v1/sessions/:id.
func GetSession(ctl *controller.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := ctl.Session(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, http.StatusOK, s)
	}
}

// NavigateSession returns a handler for POST /api/v1/sessions/:id/navigate.
func NavigateSession(ctl *controller.Controller, f Fetcher, cfg config.RenderConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := ctl.Session(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		var req models.NavigateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults(cfg.DefaultFetchMode)

		page, err := loadPage(c.Request.Context(), f, &req.PageSource, cfg)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := s.Navigate(c.Request.Context(), page.PageInput); err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, http.StatusOK, s)
	}
}

// MutateSession returns a handler for POST /api/v1/sessions/:id/mutations.
func MutateSession(ctl *controller.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := ctl.Session(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		var req models.MutationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		settle := time.Duration(req.Settle) * time.Millisecond
		if err := s.Mutate(c.Request.Context(), req.Mutations, settle); err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, http.StatusOK, s)
	}
}

// CloseSession returns a handler for DELETE /api/v1/sessions/:id.
func CloseSession(ctl *controller.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := ctl.CloseSession(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SessionResponse{Success: true, Session: &info})
	}
}

func respondSession(c *gin.Context, status int, s *controller.Session) {
	out, err := s.HTML()
	if err != nil {
		respondError(c, err)
		return
	}
	info := s.Info()
	c.JSON(status, models.SessionResponse{
		Success: true,
		Session: &info,
		HTML:    out,
	})
}
