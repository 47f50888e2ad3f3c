package detector

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/dom"
)

func newDetector(opts Options) *Detector {
	return New(adnet.NewStaticRegistry(adnet.Default()), opts, nil)
}

func ids(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		id, _ := dom.Attr(c.Element, "id")
		out = append(out, id)
	}
	return out
}

func TestGetAdSize(t *testing.T) {
	tests := []struct {
		w, h float64
		want Size
	}{
		{300, 250, SizeLarge},
		{120, 30, SizeSmall},
		{250, 100, SizeMedium},
		{728, 90, SizeMedium},
		{160, 600, SizeSmall},
		{300, 200, SizeLarge},
		{300, 59, SizeSmall},
		{200, 60, SizeMedium},
	}
	for _, tt := range tests {
		if got := GetAdSize(tt.w, tt.h); got != tt.want {
			t.Errorf("GetAdSize(%v, %v) = %q, want %q", tt.w, tt.h, got, tt.want)
		}
	}
}

const page = `<html><body>
	<div id="big" class="ad-slot" style="width:300px;height:250px"></div>
	<div id="leader" class="ad-container" style="width:728px;height:90px"></div>
	<div id="hidden" class="ad-slot" style="display:none;width:300px;height:250px"></div>
	<div id="invisible" class="ad-slot" style="visibility:hidden;width:300px;height:250px"></div>
	<div id="pixel" class="ad-slot" style="width:1px;height:1px"></div>
	<div id="done" class="ad-slot" data-opl-injected="true" style="width:300px;height:250px"></div>
	<div id="takeover" class="ad-banner" style="position:fixed;width:100%;height:100%"></div>
	<div style="position:fixed;width:400px;height:300px"><div id="in-modal" class="ad-slot" style="width:300px;height:250px"></div></div>
	<div style="z-index:100000;position:relative"><div id="stacked" class="ad-slot" style="width:300px;height:250px"></div></div>
	<div id="wrapper" class="ad-container" style="width:300px;height:250px"><div data-opl-injected="true"></div></div>
	<main id="main" class="ad-container" style="width:300px;height:250px"></main>
	<div id="frame-host" style="width:300px;height:250px"><iframe src="https://ads.pubmatic.com/AdServer/js/showad.html" style="width:300px;height:250px"></iframe></div>
	<div id="video" style="width:300px;height:250px"><iframe src="https://www.youtube.com/embed/x"></iframe></div>
</body></html>`

func TestFindAdElementsFilters(t *testing.T) {
	doc, err := dom.NewDocumentFromString(page, dom.WithViewport(dom.Size{Width: 1280, Height: 800}))
	require.NoError(t, err)

	got := newDetector(Options{}).FindAdElements(doc, nil)
	assert.Equal(t, []string{"big", "leader", "frame-host"}, ids(got))

	require.Len(t, got, 3)
	assert.Equal(t, SizeLarge, got[0].Size)
	assert.Equal(t, dom.Size{Width: 300, Height: 250}, got[0].Rect)
	assert.Equal(t, SizeMedium, got[1].Size)
	assert.Equal(t, SizeLarge, got[2].Size)
}

func TestAbsoluteTakeoverExcluded(t *testing.T) {
	doc, err := dom.NewDocumentFromString(`<html><body>
		<div id="cover" class="ad-slot" style="position:absolute;width:1200px;height:700px"></div>
		<div id="ok" class="ad-slot" style="position:absolute;width:300px;height:250px"></div>
	</body></html>`, dom.WithViewport(dom.Size{Width: 1280, Height: 800}))
	require.NoError(t, err)

	d := newDetector(Options{})
	assert.Equal(t, []string{"ok"}, ids(d.FindAdElements(doc, nil)))

	require.NoError(t, doc.View(func(tx *dom.Tx) error {
		cover := tx.Selection().Find("#cover").Get(0)
		ok := tx.Selection().Find("#ok").Get(0)
		assert.True(t, d.IsFullPageTakeover(tx, cover))
		assert.False(t, d.HasOverlayAncestor(tx, cover), "only the takeover rule excludes it")
		assert.False(t, d.IsFullPageTakeover(tx, ok))
		return nil
	}))
}

func TestFindAdElementsDetachedRoot(t *testing.T) {
	doc, err := dom.NewDocumentFromString(page)
	require.NoError(t, err)
	detached := dom.NewElement("div")
	detached.AppendChild(dom.NewElement("ins", "class", "adsbygoogle"))
	assert.Empty(t, newDetector(Options{}).FindAdElements(doc, detached))
}

func TestScanUsesSnapshotGeometry(t *testing.T) {
	doc, err := dom.NewDocumentFromString(
		`<body><ins id="g" class="adsbygoogle" data-opl-node="1"></ins></body>`,
		dom.WithGeometry(&dom.Geometry{
			Viewport: dom.Size{Width: 1280, Height: 800},
			Nodes: map[string]dom.NodeGeometry{
				"1": {
					Rect:        dom.Rect{Width: 0, Height: 0},
					OffsetWidth: 336, OffsetHeight: 280,
					Style: dom.Style{Display: "block", Visibility: "visible", Position: "static", Opacity: 1},
				},
			},
		}))
	require.NoError(t, err)

	got := newDetector(Options{}).FindAdElements(doc, nil)
	require.Len(t, got, 1)
	assert.Equal(t, dom.Size{Width: 336, Height: 280}, got[0].Rect)
	assert.Equal(t, SizeLarge, got[0].Size)
}

func fastOptions() Options {
	return Options{Debounce: 20 * time.Millisecond, RescanInterval: 30 * time.Millisecond, MaxRescans: 3}
}

func TestObserveNewAdsDebouncesMutations(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc, err := dom.NewDocumentFromString(`<body><div id="feed"></div></body>`)
	require.NoError(t, err)
	d := newDetector(Options{Debounce: 30 * time.Millisecond, RescanInterval: time.Hour, MaxRescans: 1})

	var (
		mu    sync.Mutex
		calls [][]string
	)
	h := d.ObserveNewAds(doc, func(tx *dom.Tx, ads []Candidate, trigger Trigger) {
		assert.Equal(t, TriggerMutation, trigger)
		mu.Lock()
		calls = append(calls, ids(ads))
		mu.Unlock()
		for _, a := range ads {
			tx.SetAttr(a.Element, InjectedAttr, "true")
		}
	})
	defer h.Disconnect()

	var feed *html.Node
	require.NoError(t, doc.View(func(tx *dom.Tx) error {
		feed = tx.Body().FirstChild
		return nil
	}))
	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, doc.Update(func(tx *dom.Tx) error {
			tx.AppendChild(feed, dom.NewElement("div", "id", id, "class", "ad-slot", "style", "width:300px;height:250px"))
			return nil
		}), i)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1, "a burst is coalesced into one scan and marked slots are not reported again")
	assert.Equal(t, []string{"a1", "a2", "a3"}, calls[0])
}

func TestObserveNewAdsRescansAreBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc, err := dom.NewDocumentFromString(`<body><div id="slot" class="ad-slot" style="width:300px;height:250px"></div></body>`)
	require.NoError(t, err)

	var rescans atomic.Int32
	h := newDetector(fastOptions()).ObserveNewAds(doc, func(_ *dom.Tx, _ []Candidate, trigger Trigger) {
		if trigger == TriggerRescan {
			rescans.Add(1)
		}
	})
	defer h.Disconnect()

	assert.Eventually(t, func() bool { return rescans.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), rescans.Load())
}

func TestDisconnectIsIdempotentAndStopsScans(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc, err := dom.NewDocumentFromString(`<body></body>`)
	require.NoError(t, err)

	var calls atomic.Int32
	h := newDetector(fastOptions()).ObserveNewAds(doc, func(*dom.Tx, []Candidate, Trigger) { calls.Add(1) })
	h.Disconnect()
	h.Disconnect()

	require.NoError(t, doc.Update(func(tx *dom.Tx) error {
		tx.AppendChild(tx.Body(), dom.NewElement("div", "class", "ad-slot", "style", "width:300px;height:250px"))
		return nil
	}))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestObserveWithoutObservationIsNoop(t *testing.T) {
	doc, err := dom.NewDocumentFromString(`<body></body>`, dom.WithoutObservation())
	require.NoError(t, err)
	h := newDetector(fastOptions()).ObserveNewAds(doc, func(*dom.Tx, []Candidate, Trigger) {})
	assert.IsType(t, noopHandle{}, h)
	h.Disconnect()
}
