package scraper

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/config"
)

func TestBlockPlan(t *testing.T) {
	plan := newBlockPlan([]string{"Font", "Media", "Bogus"}, nil)
	assert.False(t, plan.empty())
	assert.True(t, plan.blocks("https://example.com/a.woff2", proto.NetworkResourceTypeFont))
	assert.False(t, plan.blocks("https://securepubads.g.doubleclick.net/tag.js", proto.NetworkResourceTypeScript))

	plan.ads = adnet.Default()
	assert.True(t, plan.blocks("https://securepubads.g.doubleclick.net/tag.js", proto.NetworkResourceTypeScript))
	assert.True(t, plan.blocks("https://pagead2.googlesyndication.com/x.png", proto.NetworkResourceTypeImage))
	assert.False(t, plan.blocks("https://example.com/app.js", proto.NetworkResourceTypeScript))
	assert.False(t, plan.blocks("::not a url", proto.NetworkResourceTypeScript))

	assert.True(t, newBlockPlan(nil, nil).empty())
}

func TestDecodeGeometry(t *testing.T) {
	v := gson.NewFrom(`{
		"viewport": {"width": 1366, "height": 768},
		"nodes": {
			"1": {"rect": {"x": 0, "y": 0, "width": 1366, "height": 2000}, "offsetWidth": 1366, "offsetHeight": 2000,
			      "style": {"display": "block", "visibility": "visible", "position": "static", "zIndex": 0, "opacity": 1}},
			"7": {"rect": {"x": 10, "y": 120, "width": 300, "height": 250}, "offsetWidth": 300, "offsetHeight": 250,
			      "style": {"display": "block", "visibility": "visible", "position": "fixed", "zIndex": 1000, "opacity": 0.5}}
		}
	}`)
	geom, err := decodeGeometry(v)
	require.NoError(t, err)
	assert.Equal(t, 1366.0, geom.Viewport.Width)
	require.Contains(t, geom.Nodes, "7")
	ad := geom.Nodes["7"]
	assert.Equal(t, 250.0, ad.Rect.Height)
	assert.Equal(t, "fixed", ad.Style.Position)
	assert.Equal(t, 1000, ad.Style.ZIndex)
	assert.Equal(t, 0.5, ad.Style.Opacity)

	empty, err := decodeGeometry(gson.NewFrom(`{"viewport": {"width": 1, "height": 1}}`))
	require.NoError(t, err)
	assert.NotNil(t, empty.Nodes)
}

func TestLazyScraperDoesNotLaunch(t *testing.T) {
	s, err := NewScraper(config.BrowserConfig{Lazy: true, MaxPages: 2}, config.RenderConfig{}, nil, nil)
	require.NoError(t, err)
	stats := s.Stats()
	assert.False(t, stats.Launched)
	assert.Equal(t, 2, stats.MaxPages)
	s.Close()
}
