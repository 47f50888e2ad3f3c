package dom

import "golang.org/x/net/html"

// NodeIDAttr is stamped on every element by the browser geometry snapshot.
const NodeIDAttr = "data-opl-node"

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is a bounding client rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Style is the subset of computed style the detector and injector read.
type Style struct {
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
	Position   string  `json:"position"`
	ZIndex     int     `json:"zIndex"`
	Opacity    float64 `json:"opacity"`
}

// Layout answers geometry questions about nodes of one document.
type Layout interface {
	BoundingRect(n *html.Node) Rect
	OffsetSize(n *html.Node) Size
	ComputedStyle(n *html.Node) Style
	Viewport() Size
}

// invalidator is implemented by layouts that memoize and must forget their
// results after a mutation.
type invalidator interface {
	Invalidate()
}

// Geometry is a layout snapshot captured from a rendered page.
type Geometry struct {
	Viewport Size                    `json:"viewport"`
	Nodes    map[string]NodeGeometry `json:"nodes"`
}

// NodeGeometry is one element's rendered box and style.
type NodeGeometry struct {
	Rect         Rect    `json:"rect"`
	OffsetWidth  float64 `json:"offsetWidth"`
	OffsetHeight float64 `json:"offsetHeight"`
	Style        Style   `json:"style"`
}

// SnapshotLayout serves geometry captured by a browser render. Elements the
// snapshot never saw, such as injected cards, fall back to a static layout.
type SnapshotLayout struct {
	geom     *Geometry
	fallback *StaticLayout
}

// NewSnapshotLayout builds a layout over geom.
func NewSnapshotLayout(geom *Geometry) *SnapshotLayout {
	vp := geom.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = DefaultViewport
	}
	return &SnapshotLayout{geom: geom, fallback: NewStaticLayout(vp)}
}

func (l *SnapshotLayout) lookup(n *html.Node) (NodeGeometry, bool) {
	id, ok := Attr(n, NodeIDAttr)
	if !ok {
		return NodeGeometry{}, false
	}
	g, ok := l.geom.Nodes[id]
	return g, ok
}

func (l *SnapshotLayout) BoundingRect(n *html.Node) Rect {
	if g, ok := l.lookup(n); ok {
		return g.Rect
	}
	return l.fallback.BoundingRect(n)
}

func (l *SnapshotLayout) OffsetSize(n *html.Node) Size {
	if g, ok := l.lookup(n); ok {
		return Size{Width: g.OffsetWidth, Height: g.OffsetHeight}
	}
	return l.fallback.OffsetSize(n)
}

func (l *SnapshotLayout) ComputedStyle(n *html.Node) Style {
	if g, ok := l.lookup(n); ok {
		return g.Style
	}
	return l.fallback.ComputedStyle(n)
}

func (l *SnapshotLayout) Viewport() Size { return l.fallback.Viewport() }

// Invalidate drops the fallback's memoized results.
func (l *SnapshotLayout) Invalidate() { l.fallback.Invalidate() }
