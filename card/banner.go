package card

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/picketline/models"
)

// BannerID is the element id of the page-top banner.
const BannerID = "opl-labor-banner"

const (
	defaultBannerTitle       = "Labor Action in Progress"
	defaultBannerDescription = "This company is currently subject to a labor action."
	defaultBlockDescription  = "This company is currently subject to a labor action. We encourage you to learn more and support workers."
)

type bannerData struct {
	Title       string
	Description string
	Details     string
	MoreInfo    string
}

// RenderBanner builds the banner element announcing a matched action.
func RenderBanner(a *models.LaborAction) (*html.Node, error) {
	if a == nil {
		return nil, fmt.Errorf("render banner: nil action")
	}
	var details []string
	if loc := a.FirstLocation(); loc != "" {
		details = append(details, loc)
	}
	if a.StartDate != "" {
		details = append(details, "Since "+formatDate(a.StartDate))
	}
	data := bannerData{
		Title:       firstNonEmpty(a.Title, defaultBannerTitle),
		Description: firstNonEmpty(a.Description, defaultBannerDescription),
		Details:     strings.Join(details, " • "),
		MoreInfo:    firstNonEmpty(a.URL, a.MoreInfo),
	}
	var buf bytes.Buffer
	if err := bannerTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render banner: %w", err)
	}
	return parseHost(buf.String())
}

// formatDate renders an ISO date the way a US locale would, and passes
// anything else through.
func formatDate(s string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("1/2/2006")
		}
	}
	return s
}

var bannerTemplate = template.Must(template.New("banner").Parse(
	`<div id="opl-labor-banner" class="opl-banner opl-banner-visible" data-opl-injected="true" role="alert">` +
		`<style>{{template "css"}}</style>` +
		`<div class="opl-banner-content">` +
		`<div class="opl-banner-icon">⚠️</div>` +
		`<div class="opl-banner-text">` +
		`<strong class="opl-banner-title">{{.Title}}</strong>` +
		`<p class="opl-banner-description">{{.Description}}</p>` +
		`{{if .Details}}<p class="opl-banner-details">{{.Details}}</p>{{end}}` +
		`<div class="opl-banner-links">` +
		`{{if .MoreInfo}}<a href="{{.MoreInfo}}" target="_blank" rel="noopener noreferrer" class="opl-banner-link">Learn More</a><span class="opl-banner-sep">|</span>{{end}}` +
		`<a href="https://onlinepicketline.com" target="_blank" rel="noopener noreferrer" class="opl-banner-link opl-banner-home">Online Picket Line - OPL</a>` +
		`</div></div>` +
		`<button class="opl-banner-close" aria-label="Close banner" onclick="this.closest('#opl-labor-banner').remove()">×</button>` +
		`</div></div>` +
		`{{define "css"}}#opl-labor-banner { position: relative; z-index: 2147483646; background: #8b2c2c; color: #fff; font-family: "IBM Plex Sans", -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif; font-size: 14px; line-height: 1.4; box-shadow: 0 2px 6px rgb(0 0 0 / 25%); }
#opl-labor-banner .opl-banner-content { display: flex; align-items: flex-start; gap: 12px; max-width: 1200px; margin: 0 auto; padding: 10px 16px; }
#opl-labor-banner .opl-banner-icon { font-size: 22px; line-height: 1; }
#opl-labor-banner .opl-banner-text { flex: 1; min-width: 0; }
#opl-labor-banner .opl-banner-description, #opl-labor-banner .opl-banner-details { margin: 2px 0 0; }
#opl-labor-banner .opl-banner-details { font-size: 0.8em; opacity: 0.9; }
#opl-labor-banner .opl-banner-links { margin-top: 4px; }
#opl-labor-banner .opl-banner-link { color: #fff; text-decoration: underline; }
#opl-labor-banner .opl-banner-home { font-size: 0.8em; opacity: 0.8; }
#opl-labor-banner .opl-banner-sep { margin: 0 5px; opacity: 0.5; }
#opl-labor-banner .opl-banner-close { background: none; border: 0; color: #fff; font-size: 22px; line-height: 1; cursor: pointer; }{{end}}`,
))

type blockPageData struct {
	Type        string
	Title       string
	Description string
	Demands     string
	Locations   string
	Dates       string
	Host        string
	MoreInfo    string
	BypassURL   string
	OriginalURL string
}

// RenderBlockPage renders the standalone page shown instead of a blocked
// site. bypassURL is the "proceed anyway" target.
func RenderBlockPage(a *models.LaborAction, originalURL, bypassURL string) ([]byte, error) {
	if a == nil {
		a = &models.LaborAction{}
	}
	data := blockPageData{
		Title:       firstNonEmpty(a.Title, defaultBannerTitle),
		Description: firstNonEmpty(a.Description, defaultBlockDescription),
		Demands:     Demands(a),
		Locations:   strings.Join(a.Locations, ", "),
		MoreInfo:    firstNonEmpty(a.URL, a.MoreInfo),
		BypassURL:   bypassURL,
		OriginalURL: originalURL,
		Host:        originalURL,
	}
	if t := firstNonEmpty(a.Type, details(a).ActionType); t != "" {
		data.Type = strings.ToUpper(t)
	}
	if a.StartDate != "" {
		end := "Present"
		if a.EndDate != "" {
			end = formatDate(a.EndDate)
		}
		data.Dates = formatDate(a.StartDate) + " - " + end
	}
	if h := hostOf(originalURL); h != "" {
		data.Host = h
	}

	var buf bytes.Buffer
	if err := blockTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render block page: %w", err)
	}
	return buf.Bytes(), nil
}

var blockTemplate = template.Must(template.New("block").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Labor Action - Online Picket Line</title>
<style>
body { margin: 0; background: #faf8f5; color: #1a1a1a; font-family: "IBM Plex Sans", -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif; }
.container { max-width: 640px; margin: 64px auto; padding: 32px; background: #fff; border: 2px solid #1a1a1a; border-right-width: 6px; border-bottom-width: 6px; }
.action-type { display: inline-block; color: #8b2c2c; font-weight: 700; letter-spacing: 1px; }
h1 { margin: 8px 0 12px; }
.details div { margin: 8px 0; }
.blocked-url { color: #555; font-size: 14px; }
.buttons { display: flex; gap: 12px; margin-top: 24px; flex-wrap: wrap; }
.btn { display: inline-block; padding: 8px 16px; border: 2px solid #1a1a1a; text-decoration: none; color: #1a1a1a; font-weight: 600; }
.btn-primary { background: #8b2c2c; color: #fff; }
</style>
</head>
<body>
<div class="container">
{{if .Type}}<div id="action-type" class="action-type">{{.Type}}</div>{{end}}
<h1 id="action-title">{{.Title}}</h1>
<p id="action-description">{{.Description}}</p>
<div id="action-details" class="details">
{{- if .Demands}}<div id="action-demands-container"><strong>Demands:</strong> <span id="action-demands">{{.Demands}}</span></div>{{end}}
{{- if .Locations}}<div id="action-location-container"><strong>Location:</strong> <span id="action-location">{{.Locations}}</span></div>{{end}}
{{- if .Dates}}<div id="action-dates-container"><strong>Dates:</strong> <span id="action-dates">{{.Dates}}</span></div>{{end}}
</div>
{{if .Host}}<p class="blocked-url">You tried to visit <span id="blocked-url">{{.Host}}</span></p>{{end}}
<div class="buttons">
{{if .MoreInfo}}<a id="learn-more-btn" class="btn btn-primary" href="{{.MoreInfo}}" target="_blank" rel="noopener noreferrer">Learn More</a>{{end}}
{{if .BypassURL}}<a id="proceed-btn" class="btn" href="{{.BypassURL}}">Proceed anyway</a>{{end}}
<a id="go-back-btn" class="btn" href="javascript:history.back()">Go back</a>
</div>
</div>
</body>
</html>
`))
