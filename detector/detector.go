// Package detector finds advertising slots in a page and keeps finding them
// as the page changes.
package detector

import (
	"log/slog"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/dom"
)

// Marker attributes shared with the injector.
const (
	InjectedAttr  = "data-opl-injected"
	ContainerAttr = "data-opl-container"
)

// Size is a card size bucket.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Candidate is an ad slot found by one scan. It is not retained between scans.
type Candidate struct {
	Element *html.Node
	Size    Size
	Rect    dom.Size
}

// Options tunes filtering and the observation loop.
type Options struct {
	// MinWidth and MinHeight reject tracking pixels and empty containers.
	MinWidth  float64
	MinHeight float64

	// TakeoverCoverage is the viewport fraction (per axis) at which a
	// positioned element counts as a full-page interstitial.
	TakeoverCoverage float64

	// OverlayZIndex marks modal chrome: anything above it is an overlay.
	OverlayZIndex int

	Debounce       time.Duration
	RescanInterval time.Duration
	MaxRescans     int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinWidth:         50,
		MinHeight:        40,
		TakeoverCoverage: 0.8,
		OverlayZIndex:    999,
		Debounce:         200 * time.Millisecond,
		RescanInterval:   2 * time.Second,
		MaxRescans:       15,
	}
}

// Detector scans documents for ad slots.
type Detector struct {
	rules  *adnet.Registry
	opts   Options
	logger *slog.Logger
}

// New returns a Detector. Zero option fields take their defaults.
func New(rules *adnet.Registry, opts Options, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.MinWidth <= 0 {
		opts.MinWidth = def.MinWidth
	}
	if opts.MinHeight <= 0 {
		opts.MinHeight = def.MinHeight
	}
	if opts.TakeoverCoverage <= 0 {
		opts.TakeoverCoverage = def.TakeoverCoverage
	}
	if opts.OverlayZIndex <= 0 {
		opts.OverlayZIndex = def.OverlayZIndex
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = def.RescanInterval
	}
	if opts.MaxRescans <= 0 {
		opts.MaxRescans = def.MaxRescans
	}
	return &Detector{rules: rules, opts: opts, logger: logger}
}

// Options returns the effective options.
func (d *Detector) Options() Options { return d.opts }

// GetAdSize buckets a slot by its rendered dimensions.
func GetAdSize(width, height float64) Size {
	switch {
	case width >= 300 && height >= 200:
		return SizeLarge
	case width < 200 || height < 60:
		return SizeSmall
	default:
		return SizeMedium
	}
}

// MeasureElement returns the bounding-rect size, falling back to offset
// dimensions when the rect has no area.
func MeasureElement(tx *dom.Tx, n *html.Node) dom.Size {
	r := tx.BoundingRect(n)
	if r.Width > 0 && r.Height > 0 {
		return dom.Size{Width: r.Width, Height: r.Height}
	}
	return tx.OffsetSize(n)
}

// FindAdElements runs a read-only scan of the subtree under root.
func (d *Detector) FindAdElements(doc *dom.Document, root *html.Node) []Candidate {
	var out []Candidate
	_ = doc.View(func(tx *dom.Tx) error {
		if root == nil {
			root = tx.Root()
		}
		out = d.Scan(tx, root)
		return nil
	})
	return out
}

// Scan finds ad slots under root inside an open transaction. Selector hits
// come first in document order, then parents of ad-network iframes. A query
// failure yields an empty result.
func (d *Detector) Scan(tx *dom.Tx, root *html.Node) (found []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("ad scan failed", "panic", r)
			found = nil
		}
	}()
	if root == nil || !tx.IsConnected(root) {
		return nil
	}
	rules := d.rules.Rules()
	seen := make(map[*html.Node]bool)

	if m := rules.Matcher(); m != nil {
		for _, el := range tx.FindMatcher(root, m) {
			if c, ok := d.evaluate(tx, el); ok && !seen[el] {
				seen[el] = true
				found = append(found, c)
			}
		}
	}

	dom.Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Iframe || n == root {
			return true
		}
		src, _ := dom.Attr(n, "src")
		if !rules.MatchesIframeSrc(src) {
			return true
		}
		parent := dom.ElementParent(n)
		if parent == nil || seen[parent] {
			return true
		}
		if c, ok := d.evaluate(tx, parent); ok {
			seen[parent] = true
			found = append(found, c)
		}
		return true
	})
	return found
}

var structuralTags = map[atom.Atom]bool{
	atom.Html: true, atom.Head: true, atom.Body: true, atom.Header: true,
	atom.Footer: true, atom.Nav: true, atom.Main: true,
}

// IsStructural reports whether n is a page-structure element that must
// never be replaced.
func IsStructural(n *html.Node) bool {
	return n != nil && structuralTags[n.DataAtom]
}

// IsMarked reports whether n carries the injected marker.
func IsMarked(n *html.Node) bool {
	v, ok := dom.Attr(n, InjectedAttr)
	return ok && v == "true"
}

func (d *Detector) evaluate(tx *dom.Tx, el *html.Node) (Candidate, bool) {
	if IsMarked(el) {
		return Candidate{}, false
	}
	style := tx.ComputedStyle(el)
	if style.Display == "none" || style.Visibility == "hidden" {
		return Candidate{}, false
	}
	size := MeasureElement(tx, el)
	if size.Width < d.opts.MinWidth || size.Height < d.opts.MinHeight {
		return Candidate{}, false
	}
	if IsStructural(el) || !tx.IsConnected(el) {
		return Candidate{}, false
	}
	if d.IsFullPageTakeover(tx, el) || d.HasOverlayAncestor(tx, el) {
		return Candidate{}, false
	}
	if containsInjected(el) {
		return Candidate{}, false
	}
	return Candidate{Element: el, Size: GetAdSize(size.Width, size.Height), Rect: size}, true
}

// IsFullPageTakeover reports whether el is a positioned element covering
// most of the viewport on both axes.
func (d *Detector) IsFullPageTakeover(tx *dom.Tx, el *html.Node) bool {
	pos := tx.ComputedStyle(el).Position
	if pos != "fixed" && pos != "absolute" {
		return false
	}
	vp := tx.Viewport()
	if vp.Width <= 0 || vp.Height <= 0 {
		return false
	}
	size := MeasureElement(tx, el)
	return size.Width >= vp.Width*d.opts.TakeoverCoverage && size.Height >= vp.Height*d.opts.TakeoverCoverage
}

// HasOverlayAncestor reports whether el or any ancestor is fixed or stacked
// above the overlay z-index.
func (d *Detector) HasOverlayAncestor(tx *dom.Tx, el *html.Node) bool {
	for n := el; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if n.DataAtom == atom.Body || n.DataAtom == atom.Html {
			break
		}
		s := tx.ComputedStyle(n)
		if s.Position == "fixed" || s.ZIndex > d.opts.OverlayZIndex {
			return true
		}
	}
	return false
}

func containsInjected(el *html.Node) bool {
	found := false
	dom.Walk(el, func(n *html.Node) bool {
		if found {
			return false
		}
		if n != el && n.Type == html.ElementNode && IsMarked(n) {
			found = true
			return false
		}
		return true
	})
	return found
}
