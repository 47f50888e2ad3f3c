package controller

import (
	"context"

	"golang.org/x/net/html"

	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/injector"
	"github.com/use-agent/picketline/models"
)

// RewriteInput is one page to rewrite.
type RewriteInput struct {
	URL  string
	HTML string

	// Geometry, when present, replaces the static layout.
	Geometry *dom.Geometry

	// Mode and InjectAds override the configured defaults.
	Mode      string
	InjectAds *bool
}

// RewriteResult is a rewritten page.
type RewriteResult struct {
	HTML   string
	Mode   string
	Action *models.LaborAction

	Blocked     bool
	RedirectURL string

	Stats models.RewriteStats
}

// Rewrite applies the display mode and one injector cycle to a page. In
// block mode a matched page is not rewritten; the result carries the block
// page to redirect to instead.
func (c *Controller) Rewrite(ctx context.Context, in RewriteInput) (*RewriteResult, error) {
	if in.URL == "" {
		return nil, models.NewPicketError(models.ErrCodeInvalidInput, "url is required", nil)
	}
	actions := c.src.Actions(ctx)
	chk := c.check(in.URL, in.Mode, actions)
	res := &RewriteResult{
		Mode:   chk.Mode,
		Action: chk.Action,
		Stats:  models.RewriteStats{Matched: chk.Matched()},
	}

	if chk.Matched() && chk.Mode == models.ModeBlock {
		res.Blocked = true
		res.RedirectURL = chk.BlockURL
		res.HTML = in.HTML
		return res, nil
	}

	doc, err := dom.NewDocumentFromString(in.HTML, dom.WithoutObservation(), c.layoutOption(in.Geometry))
	if err != nil {
		return nil, models.NewPicketError(models.ErrCodeParse, "failed to parse page", err)
	}

	if chk.Matched() {
		res.Stats.BannerInserted = c.insertBanner(doc, chk.Action)
	}

	if c.InjectAds(in.InjectAds) {
		res.Stats.AdsFound = len(c.det.FindAdElements(doc, nil))
		opts := c.opts.Injector
		opts.GuardChecks = -1
		inj := injector.New(doc, c.det, c.renderer, opts, c.logger)
		inj.Start(actions).Stop()
		res.Stats.AdsReplaced = inj.Replaced()
	}

	res.Stats.LogosPatched = c.patchLogos(doc)
	stripNodeIDs(doc)

	out, err := doc.HTML()
	if err != nil {
		return nil, models.NewPicketError(models.ErrCodeInternal, "failed to render page", err)
	}
	res.HTML = out
	c.logger.Debug("page rewritten",
		"url", in.URL,
		"mode", res.Mode,
		"matched", res.Stats.Matched,
		"replaced", res.Stats.AdsReplaced,
	)
	return res, nil
}

// insertBanner puts the action banner first in body, replacing an earlier
// banner if there is one.
func (c *Controller) insertBanner(doc *dom.Document, a *models.LaborAction) bool {
	banner, err := card.RenderBanner(a)
	if err != nil {
		c.logger.Warn("banner render failed", "action_id", a.ID, "error", err)
		return false
	}
	inserted := false
	_ = doc.Update(func(tx *dom.Tx) error {
		removeBanner(tx)
		body := tx.Body()
		if body == nil {
			return nil
		}
		tx.InsertBefore(body, banner, body.FirstChild)
		inserted = true
		return nil
	})
	return inserted
}

func removeBanner(tx *dom.Tx) {
	var old []*html.Node
	dom.Walk(tx.Root(), func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if id, _ := dom.Attr(n, "id"); id == card.BannerID {
				old = append(old, n)
				return false
			}
		}
		return true
	})
	for _, n := range old {
		tx.RemoveNode(n)
	}
}

// patchLogos resolves every pending card logo slot through the action
// source's logo index.
func (c *Controller) patchLogos(doc *dom.Document) int {
	patched := 0
	_ = doc.Update(func(tx *dom.Tx) error {
		for _, slot := range card.PendingLogoSlots(tx.Root()) {
			logo, ok := c.src.LogoFor(slot.Company)
			if !ok {
				continue
			}
			if card.FillLogoSlot(tx, slot.Node, logo) {
				patched++
			}
		}
		return nil
	})
	return patched
}

// stripNodeIDs removes the geometry snapshot's node ids from the output.
func stripNodeIDs(doc *dom.Document) {
	_ = doc.Update(func(tx *dom.Tx) error {
		dom.Walk(tx.Root(), func(n *html.Node) bool {
			if n.Type == html.ElementNode {
				if _, ok := dom.Attr(n, dom.NodeIDAttr); ok {
					tx.RemoveAttr(n, dom.NodeIDAttr)
				}
			}
			return true
		})
		return nil
	})
}
