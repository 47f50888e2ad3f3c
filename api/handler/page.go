package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/engine"
	"github.com/use-agent/picketline/models"
)

// Fetcher fetches a page with the named engine mode.
type Fetcher interface {
	Fetch(ctx context.Context, mode string, req *engine.FetchRequest) (*engine.FetchResult, error)
}

// loadedPage is a page ready for the controller.
type loadedPage struct {
	controller.PageInput

	FinalURL   string
	EngineUsed string
	FetchMs    int64
}

// loadPage returns the supplied HTML as is, or fetches the page.
func loadPage(ctx context.Context, f Fetcher, src *models.PageSource, cfg config.RenderConfig) (*loadedPage, error) {
	if src.HTML != "" {
		if cfg.MaxBodyBytes > 0 && int64(len(src.HTML)) > cfg.MaxBodyBytes {
			return nil, models.NewPicketError(models.ErrCodeInvalidInput, "html exceeds the maximum page size", nil)
		}
		return &loadedPage{PageInput: controller.PageInput{URL: src.URL, HTML: src.HTML}, FinalURL: src.URL}, nil
	}
	if f == nil {
		return nil, models.NewPicketError(models.ErrCodeInvalidInput, "html is required: page fetching is disabled", nil)
	}

	timeout := time.Duration(src.Timeout) * time.Second
	if cfg.MaxTimeout > 0 && timeout > cfg.MaxTimeout {
		timeout = cfg.MaxTimeout
	}
	req := &engine.FetchRequest{
		URL:      src.URL,
		Headers:  src.Headers,
		Timeout:  timeout,
		Stealth:  src.Stealth,
		BlockAds: src.BlockAds,
	}
	for _, ck := range src.Cookies {
		req.Cookies = append(req.Cookies, http.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
	}

	start := time.Now()
	res, err := f.Fetch(ctx, src.FetchMode, req)
	fetchMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	page := &loadedPage{
		PageInput: controller.PageInput{
			URL:      src.URL,
			HTML:     res.HTML,
			Geometry: res.Geometry,
		},
		FinalURL:   res.FinalURL,
		EngineUsed: res.EngineName,
		FetchMs:    fetchMs,
	}
	// Match on the page actually shown after redirects.
	if res.FinalURL != "" {
		page.URL = res.FinalURL
	}
	return page, nil
}
