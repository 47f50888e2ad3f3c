package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/use-agent/picketline/dom"
)

// Fetch modes accepted by the rewrite API.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
	ModeAuto    = "auto"
)

// Engine is the interface that all fetch engines must implement.
type Engine interface {
	// Name returns the engine identifier ("http" or "browser").
	Name() string

	// Fetch retrieves the page for the given request.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Cookies []http.Cookie
	Timeout time.Duration
	Stealth bool

	// BlockAds aborts ad-network requests in the browser so their slots
	// stay empty for strike cards.
	BlockAds bool
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string

	// Geometry is the rendered layout snapshot. Only browser fetches carry
	// one; its node ids match the data-opl-node attributes in HTML.
	Geometry *dom.Geometry
}
