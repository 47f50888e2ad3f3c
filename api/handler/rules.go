package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/dnr"
	"github.com/use-agent/picketline/models"
)

type rulesResponse struct {
	Success bool       `json:"success"`
	Mode    string     `json:"mode"`
	Count   int        `json:"count"`
	Rules   []dnr.Rule `json:"rules"`
}

// Rules returns a handler for GET /api/v1/rules.
//
// It exports the current actions as declarativeNetRequest rules for browser
// clients that enforce blocking themselves. Query: mode=banner|block,
// block_ads=true|false. ads may be nil.
func Rules(ctl *controller.Controller, ads *adnet.Registry, blockPage string) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.DefaultQuery("mode", ctl.Mode())
		if !models.ValidMode(mode) {
			respondError(c, models.NewPicketError(models.ErrCodeInvalidInput, "mode must be banner or block", nil))
			return
		}
		blockAds := false
		if v := c.Query("block_ads"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				respondError(c, models.NewPicketError(models.ErrCodeInvalidInput, "block_ads must be a boolean", err))
				return
			}
			blockAds = b
		}

		var adRules *adnet.Rules
		if ads != nil {
			adRules = ads.Rules()
		}
		rules := dnr.Rules(ctl.Actions(c.Request.Context()), mode, blockPage, blockAds, adRules)
		c.JSON(http.StatusOK, rulesResponse{
			Success: true,
			Mode:    mode,
			Count:   len(rules),
			Rules:   rules,
		})
	}
}
