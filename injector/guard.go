package injector

import (
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
)

// GuardAttr marks the stylesheet that keeps replaced containers open.
const GuardAttr = "data-opl-guard"

const guardCSS = `[data-opl-container="true"] {
  display: block !important;
  visibility: visible !important;
  opacity: 1 !important;
  overflow: hidden !important;
  min-height: var(--opl-h, auto) !important;
  max-height: none !important;
  transform: none !important;
  clip: auto !important;
  clip-path: none !important;
}`

type guardEntry struct {
	el   *html.Node
	card *html.Node
	rect dom.Size
}

// ensureGuardStylesheet adds the container stylesheet once per document.
func ensureGuardStylesheet(tx *dom.Tx) {
	parent := tx.Head()
	if parent == nil {
		parent = tx.DocumentElement()
	}
	if parent == nil {
		return
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Style {
			if _, ok := dom.Attr(c, GuardAttr); ok {
				return
			}
		}
	}
	style := dom.NewElement("style", GuardAttr, "true")
	style.AppendChild(&html.Node{Type: html.TextNode, Data: guardCSS})
	tx.AppendChild(parent, style)
}

// guardLoop re-asserts replaced containers on a bounded schedule.
func (r *run) guardLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.inj.opts.GuardInterval)
	defer ticker.Stop()
	for i := 0; i < r.inj.opts.GuardChecks; i++ {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			_ = r.inj.doc.Update(func(tx *dom.Tx) error {
				if !r.stopped.Load() {
					r.inj.guardPass(tx)
				}
				return nil
			})
		}
	}
}

// guardPass checks every replaced container once. Containers that left the
// document are forgotten. Containers later captured by an overlay are hidden
// instead of guarded. Emptied or collapsed containers are restored.
func (i *Injector) guardPass(tx *dom.Tx) {
	i.mu.Lock()
	entries := append([]*guardEntry(nil), i.guarded...)
	i.mu.Unlock()

	keep := entries[:0]
	for _, e := range entries {
		if !tx.IsConnected(e.el) {
			continue
		}
		if i.det.HasOverlayAncestor(tx, e.el) || i.det.IsFullPageTakeover(tx, e.el) {
			hideCaptured(tx, e.el)
			i.logger.Debug("hid card captured by overlay")
			continue
		}
		if e.card.Parent != e.el {
			tx.ClearChildren(e.el)
			tx.AppendChild(e.el, e.card)
			i.logger.Debug("re-injected removed card")
		}
		if collapsed(tx, e.el) {
			lockContainer(tx, e.el, e.rect)
		}
		keep = append(keep, e)
	}

	i.mu.Lock()
	i.guarded = keep
	i.mu.Unlock()
}

func collapsed(tx *dom.Tx, el *html.Node) bool {
	if v, _ := dom.Attr(el, detector.ContainerAttr); v != "true" {
		return true
	}
	s := tx.ComputedStyle(el)
	if s.Display == "none" || s.Visibility == "hidden" || s.Opacity < 0.1 {
		return true
	}
	return !strings.HasSuffix(tx.StyleProperty(el, "min-height"), "px")
}

func hideCaptured(tx *dom.Tx, el *html.Node) {
	tx.RemoveAttr(el, detector.ContainerAttr)
	for _, d := range [][2]string{
		{"display", "none"},
		{"visibility", "hidden"},
		{"width", "0"},
		{"height", "0"},
		{"overflow", "hidden"},
		{"position", "absolute"},
		{"pointer-events", "none"},
	} {
		tx.SetStyleProperty(el, d[0], d[1], true)
	}
}
