package dom

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultViewport is a common desktop window.
var DefaultViewport = Size{Width: 1366, Height: 768}

var (
	hiddenTags = map[atom.Atom]bool{
		atom.Head: true, atom.Script: true, atom.Style: true, atom.Template: true,
		atom.Meta: true, atom.Link: true, atom.Title: true, atom.Noscript: true,
	}
	blockTags = map[atom.Atom]bool{
		atom.Html: true, atom.Body: true, atom.Div: true, atom.P: true, atom.Section: true,
		atom.Article: true, atom.Aside: true, atom.Header: true, atom.Footer: true,
		atom.Nav: true, atom.Main: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
		atom.Form: true, atom.Table: true, atom.H1: true, atom.H2: true, atom.H3: true,
		atom.H4: true, atom.H5: true, atom.H6: true, atom.Figure: true, atom.Blockquote: true,
		atom.Pre: true, atom.Hr: true, atom.Dl: true, atom.Fieldset: true, atom.Address: true,
	}
	blockDisplays = map[string]bool{
		"block": true, "flex": true, "grid": true, "list-item": true, "table": true, "flow-root": true,
	}
)

// StaticLayout derives geometry from markup alone: inline styles, width and
// height attributes, and a small set of defaults. Text has no metrics, so an
// element sized only by its text measures 0x0. Positions are not computed.
type StaticLayout struct {
	viewport Size

	mu      sync.Mutex
	widths  map[*html.Node]float64
	heights map[*html.Node]float64
	styles  map[*html.Node]Style
}

// NewStaticLayout returns a static layout for the given viewport.
func NewStaticLayout(viewport Size) *StaticLayout {
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = DefaultViewport
	}
	l := &StaticLayout{viewport: viewport}
	l.reset()
	return l
}

func (l *StaticLayout) reset() {
	l.widths = make(map[*html.Node]float64)
	l.heights = make(map[*html.Node]float64)
	l.styles = make(map[*html.Node]Style)
}

// Invalidate forgets all memoized results.
func (l *StaticLayout) Invalidate() {
	l.mu.Lock()
	l.reset()
	l.mu.Unlock()
}

func (l *StaticLayout) Viewport() Size { return l.viewport }

func (l *StaticLayout) ComputedStyle(n *html.Node) Style {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.style(n)
}

func (l *StaticLayout) OffsetSize(n *html.Node) Size {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n == nil || n.Type != html.ElementNode || l.rendersNothing(n) {
		return Size{}
	}
	return Size{Width: l.usedWidth(n), Height: l.usedHeight(n)}
}

func (l *StaticLayout) BoundingRect(n *html.Node) Rect {
	s := l.OffsetSize(n)
	return Rect{Width: s.Width, Height: s.Height}
}

func (l *StaticLayout) style(n *html.Node) Style {
	if n == nil || n.Type != html.ElementNode {
		return Style{Display: "block", Visibility: "visible", Position: "static", Opacity: 1}
	}
	if s, ok := l.styles[n]; ok {
		return s
	}
	decls := ParseStyle(attrOr(n, "style"))
	s := Style{Position: "static", Opacity: 1}

	if v, ok := styleValue(decls, "display"); ok {
		s.Display = strings.ToLower(v)
	} else {
		s.Display = defaultDisplay(n)
	}
	if v, ok := styleValue(decls, "visibility"); ok && strings.ToLower(v) != "inherit" {
		s.Visibility = strings.ToLower(v)
	} else {
		s.Visibility = l.style(n.Parent).Visibility
	}
	if v, ok := styleValue(decls, "position"); ok {
		s.Position = strings.ToLower(v)
	}
	if v, ok := styleValue(decls, "z-index"); ok {
		if z, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			s.ZIndex = z
		}
	}
	if v, ok := styleValue(decls, "opacity"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			s.Opacity = f
		}
	}
	l.styles[n] = s
	return s
}

func defaultDisplay(n *html.Node) string {
	if _, ok := Attr(n, "hidden"); ok {
		return "none"
	}
	switch {
	case hiddenTags[n.DataAtom]:
		return "none"
	case blockTags[n.DataAtom]:
		return "block"
	case n.DataAtom == atom.Iframe || n.DataAtom == atom.Img || n.DataAtom == atom.Video || n.DataAtom == atom.Canvas:
		return "inline-block"
	default:
		return "inline"
	}
}

// rendersNothing reports whether n or an ancestor has display:none.
func (l *StaticLayout) rendersNothing(n *html.Node) bool {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if l.style(p).Display == "none" {
			return true
		}
	}
	return false
}

func (l *StaticLayout) inFlow(n *html.Node) bool {
	pos := l.style(n).Position
	return pos != "absolute" && pos != "fixed"
}

// containingWidth is the width percentages and block stretching resolve against.
func (l *StaticLayout) containingWidth(n *html.Node) float64 {
	if l.style(n).Position == "fixed" || n.Parent == nil || n.Parent.Type != html.ElementNode {
		return l.viewport.Width
	}
	return l.usedWidth(n.Parent)
}

func (l *StaticLayout) usedWidth(n *html.Node) float64 {
	if w, ok := l.widths[n]; ok {
		return w
	}
	decls := ParseStyle(attrOr(n, "style"))
	var w float64
	if lv, ok := declaredLength(n, decls, "width"); ok {
		w = lv.resolve(l.containingWidth(n))
	} else if blockDisplays[l.style(n).Display] && l.inFlow(n) {
		w = l.containingWidth(n)
	} else if n.DataAtom == atom.Iframe {
		w = 300
	} else {
		w = l.intrinsicWidth(n)
	}
	w = clampLength(w, decls, "min-width", "max-width", l.containingWidth(n))
	l.widths[n] = w
	return w
}

// intrinsicWidth is the shrink-to-fit width: the widest child. It never
// looks upward, so percentages count as zero.
func (l *StaticLayout) intrinsicWidth(n *html.Node) float64 {
	var widest float64
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || l.style(c).Display == "none" {
			continue
		}
		var w float64
		decls := ParseStyle(attrOr(c, "style"))
		if lv, ok := declaredLength(c, decls, "width"); ok && !lv.percent {
			w = lv.value
		} else if c.DataAtom == atom.Iframe {
			w = 300
		} else {
			w = l.intrinsicWidth(c)
		}
		if w > widest {
			widest = w
		}
	}
	return widest
}

// declaredHeight resolves an explicit height. Percentages only resolve when
// the parent itself has a declared height; the root resolves against the viewport.
func (l *StaticLayout) declaredHeight(n *html.Node) (float64, bool) {
	lv, ok := declaredLength(n, ParseStyle(attrOr(n, "style")), "height")
	if !ok {
		return 0, false
	}
	if !lv.percent {
		return lv.value, true
	}
	if l.style(n).Position == "fixed" || n.Parent == nil || n.Parent.Type != html.ElementNode {
		return lv.resolve(l.viewport.Height), true
	}
	ph, ok := l.declaredHeight(n.Parent)
	if !ok {
		return 0, false
	}
	return lv.resolve(ph), true
}

func (l *StaticLayout) usedHeight(n *html.Node) float64 {
	if h, ok := l.heights[n]; ok {
		return h
	}
	var h float64
	if dh, ok := l.declaredHeight(n); ok {
		h = dh
	} else if n.DataAtom == atom.Iframe {
		h = 150
	} else {
		var blocks, inline float64
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || l.style(c).Display == "none" || !l.inFlow(c) {
				continue
			}
			ch := l.usedHeight(c)
			if blockDisplays[l.style(c).Display] {
				blocks += ch
			} else if ch > inline {
				inline = ch
			}
		}
		h = blocks + inline
	}
	base := l.viewport.Height
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		if ph, ok := l.declaredHeight(n.Parent); ok {
			base = ph
		}
	}
	h = clampLength(h, ParseStyle(attrOr(n, "style")), "min-height", "max-height", base)
	l.heights[n] = h
	return h
}

// declaredLength reads a CSS property, falling back to the HTML attribute of
// the same name ("width", "height").
func declaredLength(n *html.Node, decls []Declaration, prop string) (length, bool) {
	if v, ok := styleValue(decls, prop); ok {
		return parseLength(v)
	}
	if v, ok := Attr(n, prop); ok {
		return parseLength(v)
	}
	return length{}, false
}

func clampLength(v float64, decls []Declaration, minProp, maxProp string, base float64) float64 {
	if s, ok := styleValue(decls, maxProp); ok {
		if lv, ok := parseLength(s); ok && v > lv.resolve(base) {
			v = lv.resolve(base)
		}
	}
	if s, ok := styleValue(decls, minProp); ok {
		if lv, ok := parseLength(s); ok && v < lv.resolve(base) {
			v = lv.resolve(base)
		}
	}
	return v
}
