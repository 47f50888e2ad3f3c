package scraper

import (
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/picketline/adnet"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// blockPlan decides which requests a page never makes.
type blockPlan struct {
	types map[proto.NetworkResourceType]struct{}
	ads   *adnet.Rules
}

func newBlockPlan(blockedTypes []string, ads *adnet.Rules) blockPlan {
	p := blockPlan{types: make(map[proto.NetworkResourceType]struct{}, len(blockedTypes)), ads: ads}
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			p.types[rt] = struct{}{}
		}
	}
	return p
}

func (p blockPlan) empty() bool {
	return len(p.types) == 0 && p.ads == nil
}

// blocks reports whether a request should fail. Ad-network hosts are
// blocked for every resource type so their slots render empty.
func (p blockPlan) blocks(rawURL string, rt proto.NetworkResourceType) bool {
	if _, ok := p.types[rt]; ok {
		return true
	}
	if p.ads == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	return err == nil && p.ads.IsAdHost(u.Hostname())
}

// setupHijack installs a request interceptor for plan. It returns the
// running router so the caller can stop it, or nil if nothing is blocked.
func setupHijack(page *rod.Page, plan blockPlan) *rod.HijackRouter {
	if plan.empty() {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if plan.blocks(ctx.Request.URL().String(), ctx.Request.Type()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks until router.Stop().
	go router.Run()

	return router
}
