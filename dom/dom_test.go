package dom

import (
	"sync"
	"testing"

	"github.com/andybalholm/cascadia"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseStyle(t *testing.T) {
	decls := ParseStyle(`width: 300px; background: url("data:image/png;base64,xx"); display:block !important;;WIDTH:320px`)
	require.Len(t, decls, 3)

	w, ok := styleValue(decls, "width")
	assert.True(t, ok)
	assert.Equal(t, "320px", w)

	bg, _ := styleValue(decls, "background")
	assert.Equal(t, `url("data:image/png;base64,xx")`, bg)

	assert.True(t, decls[2].Important)
	assert.Equal(t, "block", decls[2].Value)
}

func TestFormatStyleRoundTrip(t *testing.T) {
	decls := []Declaration{{Property: "overflow", Value: "hidden", Important: true}, {Property: "height", Value: "250px"}}
	assert.Equal(t, "overflow: hidden !important; height: 250px;", FormatStyle(decls))
	assert.Equal(t, decls, ParseStyle(FormatStyle(decls)))
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in   string
		want length
		ok   bool
	}{
		{"300px", length{value: 300}, true},
		{"250", length{value: 250}, true},
		{"50%", length{value: 50, percent: true}, true},
		{"auto", length{}, false},
		{"2em", length{}, false},
		{"", length{}, false},
	}
	for _, tt := range tests {
		got, ok := parseLength(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseLength(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func find(t *testing.T, d *Document, sel string) *html.Node {
	t.Helper()
	var n *html.Node
	require.NoError(t, d.View(func(tx *Tx) error {
		nodes := tx.FindMatcher(tx.Root(), cascadia.MustCompile(sel))
		require.NotEmpty(t, nodes, sel)
		n = nodes[0]
		return nil
	}))
	return n
}

func TestStaticLayoutSizes(t *testing.T) {
	d, err := NewDocumentFromString(`<html><body>
		<div id="fixed" style="width:300px;height:250px"></div>
		<div id="stretch" style="height:90px"></div>
		<div id="half" style="width:50%;height:10px"></div>
		<span id="wrap"><ins id="ins" style="display:inline-block;width:728px;height:90px"></ins></span>
		<div id="sum"><div style="height:100px"></div><div style="height:50px"></div></div>
		<div id="hidden" style="display:none;width:300px;height:250px"></div>
		<div style="display:none"><div id="nested" style="width:300px;height:250px"></div></div>
		<iframe id="frame"></iframe>
		<img id="img" width="160" height="600">
		<div id="clamped" style="width:2000px;max-width:970px;height:10px;min-height:40px"></div>
	</body></html>`, WithViewport(Size{Width: 1000, Height: 800}))
	require.NoError(t, err)

	tests := []struct {
		sel  string
		want Size
	}{
		{"#fixed", Size{300, 250}},
		{"#stretch", Size{1000, 90}},
		{"#half", Size{500, 10}},
		{"#wrap", Size{728, 90}},
		{"#sum", Size{1000, 150}},
		{"#hidden", Size{}},
		{"#nested", Size{}},
		{"#frame", Size{300, 150}},
		{"#img", Size{160, 600}},
		{"#clamped", Size{970, 40}},
	}
	for _, tt := range tests {
		n := find(t, d, tt.sel)
		_ = d.View(func(tx *Tx) error {
			assert.Equal(t, tt.want, tx.OffsetSize(n), tt.sel)
			return nil
		})
	}
}

func TestStaticLayoutStyle(t *testing.T) {
	d, err := NewDocumentFromString(`<body>
		<div style="visibility:hidden"><p id="inherit">x</p></div>
		<div id="modal" style="position:fixed;z-index:10000;opacity:0.5"></div>
		<div id="attr" hidden></div>
	</body>`)
	require.NoError(t, err)

	inherit, modalEl, attr := find(t, d, "#inherit"), find(t, d, "#modal"), find(t, d, "#attr")
	_ = d.View(func(tx *Tx) error {
		assert.Equal(t, "hidden", tx.ComputedStyle(inherit).Visibility)
		modal := tx.ComputedStyle(modalEl)
		assert.Equal(t, "fixed", modal.Position)
		assert.Equal(t, 10000, modal.ZIndex)
		assert.InDelta(t, 0.5, modal.Opacity, 0.001)
		assert.Equal(t, "none", tx.ComputedStyle(attr).Display)
		return nil
	})
}

func TestLayoutInvalidatedByMutation(t *testing.T) {
	d, err := NewDocumentFromString(`<body><div id="a" style="width:100px;height:100px"></div></body>`)
	require.NoError(t, err)
	n := find(t, d, "#a")

	_ = d.View(func(tx *Tx) error {
		assert.Equal(t, 100.0, tx.OffsetSize(n).Height)
		return nil
	})
	require.NoError(t, d.Update(func(tx *Tx) error {
		tx.SetStyleProperty(n, "height", "250px", false)
		assert.Equal(t, 250.0, tx.OffsetSize(n).Height)
		return nil
	}))
}

func TestSnapshotLayoutFallsBack(t *testing.T) {
	d, err := NewDocumentFromString(`<body><div data-opl-node="7"></div><div id="fresh" style="width:120px;height:60px"></div></body>`,
		WithGeometry(&Geometry{
			Viewport: Size{Width: 1280, Height: 720},
			Nodes: map[string]NodeGeometry{
				"7": {Rect: Rect{X: 10, Y: 20, Width: 300, Height: 250}, OffsetWidth: 300, OffsetHeight: 250, Style: Style{Display: "block", Visibility: "visible", Position: "static", Opacity: 1}},
			},
		}))
	require.NoError(t, err)

	snap, fresh := find(t, d, "[data-opl-node='7']"), find(t, d, "#fresh")
	_ = d.View(func(tx *Tx) error {
		assert.Equal(t, Rect{X: 10, Y: 20, Width: 300, Height: 250}, tx.BoundingRect(snap))
		assert.Equal(t, Size{120, 60}, tx.OffsetSize(fresh))
		assert.Equal(t, Size{1280, 720}, tx.Viewport())
		return nil
	})
}

func TestObserveDeliversScopedBatches(t *testing.T) {
	d, err := NewDocumentFromString(`<body><div id="slot"></div></body>`)
	require.NoError(t, err)
	slot := find(t, d, "#slot")

	var (
		mu   sync.Mutex
		seen []Mutation
	)
	unobserve, ok := d.Observe(ObserveOptions{
		Subtree: true, ChildList: true, Attributes: true, AttributeFilter: []string{"class"},
	}, func(ms []Mutation) {
		mu.Lock()
		seen = append(seen, ms...)
		mu.Unlock()
	})
	require.True(t, ok)

	require.NoError(t, d.Update(func(tx *Tx) error {
		tx.SetAttr(slot, "class", "ad-slot")
		tx.SetAttr(slot, "title", "ignored")
		tx.AppendChild(slot, NewElement("span"))
		return nil
	}))

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, MutationAttributes, seen[0].Type)
	assert.Equal(t, "class", seen[0].AttributeName)
	assert.Equal(t, MutationChildList, seen[1].Type)
	mu.Unlock()

	unobserve()
	unobserve()
	require.NoError(t, d.Update(func(tx *Tx) error {
		tx.SetAttr(slot, "class", "other")
		return nil
	}))
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestObserveUnavailable(t *testing.T) {
	d, err := NewDocumentFromString(`<body></body>`, WithoutObservation())
	require.NoError(t, err)
	unobserve, ok := d.Observe(ObserveOptions{ChildList: true}, func([]Mutation) {})
	assert.False(t, ok)
	assert.NotPanics(t, unobserve)
}

func TestViewRejectsWrites(t *testing.T) {
	d, err := NewDocumentFromString(`<body></body>`)
	require.NoError(t, err)
	assert.PanicsWithValue(t, ErrReadOnly, func() {
		_ = d.View(func(tx *Tx) error {
			tx.SetAttr(tx.Body(), "class", "x")
			return nil
		})
	})
}

func TestReplaceContent(t *testing.T) {
	d, err := NewDocumentFromString(`<html><head><title>one</title></head><body><p id="old">old</p></body></html>`)
	require.NoError(t, err)

	require.NoError(t, d.Update(func(tx *Tx) error {
		return tx.ReplaceContent(`<html><body><div id="new" style="width:50px;height:40px"></div></body></html>`,
			NewStaticLayout(Size{Width: 800, Height: 600}))
	}))

	out, err := d.HTML()
	require.NoError(t, err)
	assert.NotContains(t, out, `id="old"`)
	assert.NotContains(t, out, "<title>one</title>")

	n := find(t, d, "#new")
	_ = d.View(func(tx *Tx) error {
		assert.Equal(t, Size{800, 600}, tx.Viewport())
		assert.Equal(t, Size{50, 40}, tx.OffsetSize(n))
		require.NotNil(t, tx.Body())
		assert.True(t, tx.IsConnected(n))
		return nil
	})
}
