package card

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/models"
)

func TestTruncateText(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Hello World", 8, "Hello W…"},
		{"Hi", 10, "Hi"},
		{"", 5, ""},
		{"exactly", 7, "exactly"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		if got := TruncateText(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateText(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFieldResolution(t *testing.T) {
	a := &models.LaborAction{
		ExtensionData: &models.ExtensionData{
			UnionLogoURL: "/logos/union.png",
			ActionDetails: &models.ActionDetails{
				ActionType:   "boycott",
				LearnMoreURL: "https://example.org/boycott",
			},
		},
	}
	assert.Equal(t, "https://onlinepicketline.com/logos/union.png", LogoURL(a, ""))
	assert.Equal(t, "https://api.test/logos/union.png", LogoURL(a, "https://api.test/"))
	assert.Equal(t, "https://example.org/boycott", MoreInfoURL(a))
	assert.Equal(t, "Boycott", TypeLabel(a))

	a.ExtensionData.UnionLogoURL = "//cdn.test/logo.png"
	assert.Equal(t, "//cdn.test/logo.png", LogoURL(a, ""))

	assert.Equal(t, "Action", TypeLabel(&models.LaborAction{}))
	assert.Equal(t, "https://a.test", MoreInfoURL(&models.LaborAction{MoreInfo: "https://a.test", URL: "https://b.test"}))
}

func render(t *testing.T, a *models.LaborAction, size detector.Size, w, h float64) (*html.Node, *goquery.Selection) {
	t.Helper()
	host, err := NewRenderer("").RenderStrikeCard(a, size, dom.Size{Width: w, Height: h})
	require.NoError(t, err)
	require.NotNil(t, host)
	return host, goquery.NewDocumentFromNode(host).Selection
}

func TestRenderSmallCard(t *testing.T) {
	host, sel := render(t, &models.LaborAction{
		Type:     "strike",
		Employer: "Acme Corporation International Holdings",
		MoreInfo: "https://picket.test/acme",
	}, detector.SizeSmall, 160, 50)

	v, _ := dom.Attr(host, "data-opl-injected")
	assert.Equal(t, "true", v)
	style, _ := dom.Attr(host, "style")
	assert.Contains(t, style, "width: 160px !important")
	assert.Contains(t, style, "height: 50px !important")

	assert.Equal(t, "Strike at Acme Corporation Internationa…", sel.Find(".opl-strike-card-headline").Text())
	link := sel.Find("a.opl-strike-card-link")
	require.Equal(t, 1, link.Length())
	assert.Equal(t, "Learn More →", link.Text())
	href, _ := link.Attr("href")
	assert.Equal(t, "https://picket.test/acme", href)
	target, _ := link.Attr("target")
	rel, _ := link.Attr("rel")
	assert.Equal(t, "_blank", target)
	assert.Equal(t, "noopener noreferrer", rel)
	assert.Equal(t, 1, sel.Find("style").Length())
}

func TestRenderSmallCardDefaults(t *testing.T) {
	_, sel := render(t, &models.LaborAction{}, detector.SizeSmall, 120, 40)
	assert.Equal(t, "Action at this employer", sel.Find(".opl-strike-card-headline").Text())
	assert.Zero(t, sel.Find("a").Length())
}

func TestRenderMediumCardWithoutLogo(t *testing.T) {
	_, sel := render(t, &models.LaborAction{
		Company:   "Acme",
		Type:      "picket",
		Locations: []string{"Seattle, WA", "Portland, OR"},
		URL:       "https://picket.test/acme",
	}, detector.SizeMedium, 728, 90)

	slot := sel.Find("span.opl-strike-card-logo-slot")
	require.Equal(t, 1, slot.Length())
	_, addressable := slot.Attr(LogoSlotAttr)
	assert.True(t, addressable)
	company, _ := slot.Attr(LogoCompanyAttr)
	assert.Equal(t, "Acme", company)
	assert.Equal(t, "✊", slot.Find(".opl-strike-card-icon-medium").Text())

	assert.Equal(t, "🪧 Picket", sel.Find(".opl-strike-card-badge").Text())
	assert.Equal(t, "Acme", sel.Find(".opl-strike-card-employer").Text())
	assert.Equal(t, "Seattle, WA", sel.Find(".opl-strike-card-location").Text())
	assert.Equal(t, "Learn More", sel.Find("a.opl-strike-card-btn").Text())
	assert.Equal(t, "via Online Picket Line", sel.Find(".opl-strike-card-footer").Text())
}

func TestRenderLargeCard(t *testing.T) {
	_, sel := render(t, &models.LaborAction{
		Employer:  "Acme",
		Type:      "strike",
		Locations: []string{"Seattle"},
		Demands:   strings.Repeat("d", 200),
		LogoURL:   "/logo.png",
	}, detector.SizeLarge, 300, 250)

	assert.Equal(t, "Strike at Acme", sel.Find(".opl-strike-card-title").Text())
	assert.Equal(t, "Acme — Seattle", sel.Find(".opl-strike-card-subline").Text())
	demands := sel.Find(".opl-strike-card-demands").Text()
	assert.True(t, strings.HasPrefix(demands, "Demands: "))
	assert.Equal(t, 120, len([]rune(strings.TrimPrefix(demands, "Demands: "))))
	assert.Zero(t, sel.Find(".opl-strike-card-description").Length())

	img := sel.Find("img.opl-strike-card-logo-large")
	require.Equal(t, 1, img.Length())
	src, _ := img.Attr("src")
	assert.Equal(t, "https://onlinepicketline.com/logo.png", src)
	_, pending := sel.Find("span.opl-strike-card-logo-slot").Attr(LogoCompanyAttr)
	assert.False(t, pending)
	assert.Equal(t, "✊ Online Picket Line", sel.Find(".opl-strike-card-footer").Text())
}

func TestRenderEscapesActionText(t *testing.T) {
	host, sel := render(t, &models.LaborAction{
		Title:    `<script>alert("x")</script>`,
		Employer: `"><img src=x onerror=alert(1)>`,
		MoreInfo: "javascript:alert(1)",
	}, detector.SizeLarge, 300, 250)

	assert.Zero(t, sel.Find("script").Length())
	assert.Zero(t, sel.Find("img").Length())
	href, _ := sel.Find("a.opl-strike-card-btn").Attr("href")
	assert.NotContains(t, href, "javascript")

	var buf strings.Builder
	require.NoError(t, html.Render(&buf, host))
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestRenderNilAction(t *testing.T) {
	_, err := NewRenderer("").RenderStrikeCard(nil, detector.SizeLarge, dom.Size{Width: 300, Height: 250})
	assert.Error(t, err)
}

func TestFillLogoSlot(t *testing.T) {
	doc, err := dom.NewDocumentFromString(`<body><div id="slot"></div></body>`)
	require.NoError(t, err)
	host, err := NewRenderer("").RenderStrikeCard(&models.LaborAction{Employer: "Acme"}, detector.SizeLarge, dom.Size{Width: 300, Height: 250})
	require.NoError(t, err)

	require.NoError(t, doc.Update(func(tx *dom.Tx) error {
		tx.AppendChild(tx.Body(), host)
		return nil
	}))

	var slots []LogoSlot
	require.NoError(t, doc.View(func(tx *dom.Tx) error {
		slots = PendingLogoSlots(tx.Root())
		return nil
	}))
	require.Len(t, slots, 1)
	assert.Equal(t, "Acme", slots[0].Company)

	require.NoError(t, doc.Update(func(tx *dom.Tx) error {
		assert.False(t, FillLogoSlot(tx, slots[0].Node, "javascript:alert(1)"))
		assert.True(t, FillLogoSlot(tx, slots[0].Node, "https://cdn.test/acme.png"))
		return nil
	}))

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, `src="https://cdn.test/acme.png"`)
	assert.Contains(t, out, `class="opl-strike-card-logo opl-strike-card-logo-large"`)
	assert.NotContains(t, out, LogoCompanyAttr)
}

func TestRenderBanner(t *testing.T) {
	banner, err := RenderBanner(&models.LaborAction{
		Locations: []string{"Seattle"},
		StartDate: "2024-01-15",
		URL:       "https://picket.test/acme",
	})
	require.NoError(t, err)
	sel := goquery.NewDocumentFromNode(banner).Selection

	id, _ := dom.Attr(banner, "id")
	assert.Equal(t, BannerID, id)
	assert.Equal(t, "Labor Action in Progress", sel.Find(".opl-banner-title").Text())
	assert.Equal(t, "This company is currently subject to a labor action.", sel.Find(".opl-banner-description").Text())
	assert.Equal(t, "Seattle • Since 1/15/2024", sel.Find(".opl-banner-details").Text())
	assert.Equal(t, 2, sel.Find("a.opl-banner-link").Length())
	assert.Equal(t, 1, sel.Find("button.opl-banner-close").Length())
}

func TestRenderBannerWithoutLinkOrDetails(t *testing.T) {
	banner, err := RenderBanner(&models.LaborAction{Title: "Boycott Acme"})
	require.NoError(t, err)
	sel := goquery.NewDocumentFromNode(banner).Selection
	assert.Equal(t, "Boycott Acme", sel.Find(".opl-banner-title").Text())
	assert.Zero(t, sel.Find(".opl-banner-details").Length())
	assert.Equal(t, 1, sel.Find("a.opl-banner-link").Length())
}

func TestRenderBlockPage(t *testing.T) {
	page, err := RenderBlockPage(&models.LaborAction{
		Title:     "Acme Strike",
		Type:      "strike",
		Demands:   "Fair wages",
		Locations: []string{"Seattle", "Tacoma"},
		StartDate: "2024-01-15",
		MoreInfo:  "https://picket.test/acme",
	}, "https://www.acme.com/shop", "https://www.acme.com/shop?opl_bypass=1")
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	require.NoError(t, err)
	assert.Equal(t, "STRIKE", doc.Find("#action-type").Text())
	assert.Equal(t, "Acme Strike", doc.Find("#action-title").Text())
	assert.Equal(t, "Fair wages", doc.Find("#action-demands").Text())
	assert.Equal(t, "Seattle, Tacoma", doc.Find("#action-location").Text())
	assert.Equal(t, "1/15/2024 - Present", doc.Find("#action-dates").Text())
	assert.Equal(t, "www.acme.com", doc.Find("#blocked-url").Text())
	proceed, _ := doc.Find("#proceed-btn").Attr("href")
	assert.Equal(t, "https://www.acme.com/shop?opl_bypass=1", proceed)
}

func TestActionMarkdown(t *testing.T) {
	md, err := ActionMarkdown(NewMarkdownConverter(), &models.LaborAction{
		Title:       "Acme Strike",
		Description: "Workers walked out.",
	})
	require.NoError(t, err)
	assert.Contains(t, md, "**Acme Strike**")
	assert.Contains(t, md, "Workers walked out.")
	assert.NotContains(t, md, "opl-labor-banner {")
}
