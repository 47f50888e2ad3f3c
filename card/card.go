// Package card renders the replacement markup shown in place of ads: strike
// cards in three sizes, the labor-action banner and the block page.
package card

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/models"
)

// Slot attributes keep the logo position addressable for late patching.
const (
	LogoSlotAttr    = "data-opl-logo-slot"
	LogoCompanyAttr = "data-opl-company"
)

// Renderer builds strike cards.
type Renderer struct {
	// APIBase absolutizes root-relative logo paths.
	APIBase string
}

// NewRenderer returns a Renderer for the given API origin.
func NewRenderer(apiBase string) *Renderer {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Renderer{APIBase: apiBase}
}

type cardData struct {
	Width, Height int
	Size          string
	CSS           template.CSS

	Type        string
	Employer    string
	Company     string
	Location    string
	Title       string
	Subline     string
	Demands     string
	Description string
	MoreInfo    string
	Logo        string
}

// RenderStrikeCard builds a detached card host sized to rect. The host
// carries the injected marker and isolates its styles in a declarative
// shadow root.
func (r *Renderer) RenderStrikeCard(a *models.LaborAction, size detector.Size, rect dom.Size) (*html.Node, error) {
	if a == nil {
		return nil, fmt.Errorf("render card: nil action")
	}
	company := firstNonEmpty(a.Company, a.Employer)
	data := cardData{
		Width:    int(math.Round(rect.Width)),
		Height:   int(math.Round(rect.Height)),
		Size:     string(size),
		CSS:      template.CSS(cardCSS),
		Type:     TypeLabel(a),
		Company:  company,
		Location: Location(a),
		MoreInfo: MoreInfoURL(a),
		Logo:     LogoURL(a, r.APIBase),
	}

	switch size {
	case detector.SizeSmall:
		data.Employer = TruncateText(firstNonEmpty(company, "this employer"), 30)
	case detector.SizeMedium:
		data.Employer = TruncateText(firstNonEmpty(company, "Unknown Employer"), 40)
	default:
		data.Size = string(detector.SizeLarge)
		employer := firstNonEmpty(company, "Unknown Employer")
		data.Employer = employer
		if a.Title != "" {
			data.Title = TruncateText(a.Title, 60)
		} else {
			data.Title = data.Type + " at " + TruncateText(employer, 50)
		}
		data.Subline = employer
		if data.Location != "" {
			data.Subline += " — " + data.Location
		}
		data.Demands = TruncateText(Demands(a), 120)
		data.Description = TruncateText(Description(a), 180)
	}

	var buf bytes.Buffer
	if err := cardTemplates.ExecuteTemplate(&buf, "host", data); err != nil {
		return nil, fmt.Errorf("render card: %w", err)
	}
	return parseHost(buf.String())
}

func parseHost(markup string) (*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), dom.NewElement("body"))
	if err != nil {
		return nil, fmt.Errorf("parse card: %w", err)
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n, nil
		}
	}
	return nil, fmt.Errorf("parse card: no element in output")
}

var cardTemplates = template.Must(template.New("card").Parse(`
{{- define "host" -}}
<div data-opl-injected="true" class="opl-strike-host" style="width: {{.Width}}px !important; height: {{.Height}}px !important; max-width: {{.Width}}px !important; max-height: {{.Height}}px !important; display: block !important; position: static !important; box-sizing: border-box !important; margin: 0 !important; padding: 0 !important; float: none !important;">
<template shadowrootmode="open"><style>{{.CSS}}</style>
{{- if eq .Size "small"}}{{template "small" .}}{{else if eq .Size "medium"}}{{template "medium" .}}{{else}}{{template "large" .}}{{end -}}
</template></div>
{{- end}}

{{- define "small" -}}
<div class="opl-strike-card opl-strike-card-small"><div class="opl-strike-card-inner">
<span class="opl-strike-card-icon">✊</span>
<span class="opl-strike-card-headline">{{.Type}} at {{.Employer}}</span>
{{- if .MoreInfo}}<a class="opl-strike-card-link" href="{{.MoreInfo}}" target="_blank" rel="noopener noreferrer">Learn More →</a>{{end -}}
</div></div>
{{- end}}

{{- define "logo" -}}
<span class="opl-strike-card-logo-slot" data-opl-logo-slot=""{{if not .Logo}} data-opl-company="{{.Company}}"{{end}}>
{{- if .Logo}}<img class="opl-strike-card-logo{{if eq .Size "large"}} opl-strike-card-logo-large{{end}}" src="{{.Logo}}" alt="Union logo">
{{- else if eq .Size "medium"}}<span class="opl-strike-card-icon opl-strike-card-icon-medium">✊</span>{{end -}}
</span>
{{- end}}

{{- define "medium" -}}
<div class="opl-strike-card opl-strike-card-medium"><div class="opl-strike-card-inner">
<div class="opl-strike-card-top-row">{{template "logo" .}}
<div class="opl-strike-card-text-col">
<div class="opl-strike-card-badge">🪧 {{.Type}}</div>
<div class="opl-strike-card-employer">{{.Employer}}</div>
{{- if .Location}}<div class="opl-strike-card-location">{{.Location}}</div>{{end -}}
</div></div>
{{- if .MoreInfo}}<a class="opl-strike-card-btn" href="{{.MoreInfo}}" target="_blank" rel="noopener noreferrer">Learn More</a>{{end -}}
<div class="opl-strike-card-footer">via Online Picket Line</div>
</div></div>
{{- end}}

{{- define "large" -}}
<div class="opl-strike-card opl-strike-card-large"><div class="opl-strike-card-inner">
<div class="opl-strike-card-header">{{template "logo" .}}
<div class="opl-strike-card-header-text">
<div class="opl-strike-card-badge">🪧 {{.Type}}</div>
<div class="opl-strike-card-title">{{.Title}}</div>
<div class="opl-strike-card-subline">{{.Subline}}</div>
</div></div>
{{- if .Demands}}<div class="opl-strike-card-demands"><strong>Demands: </strong>{{.Demands}}</div>{{end -}}
{{- if .Description}}<div class="opl-strike-card-description">{{.Description}}</div>{{end -}}
<div class="opl-strike-card-bottom-row">
{{- if .MoreInfo}}<a class="opl-strike-card-btn" href="{{.MoreInfo}}" target="_blank" rel="noopener noreferrer">Learn More</a>{{end -}}
<div class="opl-strike-card-footer">✊ Online Picket Line</div>
</div>
</div></div>
{{- end}}
`))

const cardCSS = `:host { display: block !important; box-sizing: border-box !important; }
.opl-strike-card { box-sizing: border-box; overflow: hidden; width: 100%; height: 100%; font-family: "IBM Plex Sans", -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif; background: #faf8f5; border: 2px solid #1a1a1a; border-right-width: 5px; border-bottom-width: 5px; color: #1a1a1a; line-height: 1.4; display: flex; align-items: stretch; }
.opl-strike-card * { box-sizing: border-box; }
.opl-strike-card-inner { display: flex; flex-direction: column; justify-content: center; padding: 8px; width: 100%; height: 100%; overflow: hidden; min-width: 0; }
.opl-strike-card-small .opl-strike-card-inner { align-items: center; text-align: center; gap: 4px; padding: 6px; }
.opl-strike-card-icon { font-size: 20px; line-height: 1; flex-shrink: 0; }
.opl-strike-card-headline { font-size: 11px; font-weight: 600; overflow: hidden; text-overflow: ellipsis; max-width: 100%; }
.opl-strike-card-link { font-size: 10px; color: #8b2c2c; text-decoration: underline; font-weight: 500; white-space: nowrap; }
.opl-strike-card-medium .opl-strike-card-inner { gap: 6px; padding: 10px; }
.opl-strike-card-top-row, .opl-strike-card-header { display: flex; align-items: flex-start; gap: 8px; min-width: 0; }
.opl-strike-card-logo { width: 32px; height: 32px; object-fit: contain; flex-shrink: 0; border-radius: 2px; background: rgb(0 0 0 / 5%); padding: 2px; }
.opl-strike-card-logo-large { width: 48px; height: 48px; }
.opl-strike-card-icon-medium { font-size: 28px; width: 32px; text-align: center; }
.opl-strike-card-text-col, .opl-strike-card-header-text { flex: 1; min-width: 0; overflow: hidden; }
.opl-strike-card-badge { display: inline-block; font-size: 10px; font-weight: 700; text-transform: uppercase; letter-spacing: 0.5px; color: #8b2c2c; margin-bottom: 2px; }
.opl-strike-card-employer { font-size: 13px; font-weight: 600; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
.opl-strike-card-location, .opl-strike-card-subline { font-size: 11px; color: #555; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
.opl-strike-card-btn { display: inline-block; background: #8b2c2c; color: #fff; font-size: 11px; font-weight: 600; padding: 4px 12px; text-decoration: none; border: 1px solid #1a1a1a; border-right-width: 2px; border-bottom-width: 2px; white-space: nowrap; }
.opl-strike-card-footer { font-size: 9px; color: #888; text-align: right; white-space: nowrap; }
.opl-strike-card-large .opl-strike-card-inner { gap: 8px; padding: 14px; }
.opl-strike-card-title { font-size: 15px; font-weight: 700; margin-bottom: 2px; overflow: hidden; text-overflow: ellipsis; }
.opl-strike-card-demands { font-size: 12px; color: #333; overflow: hidden; }
.opl-strike-card-demands strong { color: #8b2c2c; }
.opl-strike-card-description { font-size: 11px; color: #555; overflow: hidden; }
.opl-strike-card-bottom-row { display: flex; align-items: center; justify-content: space-between; gap: 8px; margin-top: auto; min-width: 0; }`
