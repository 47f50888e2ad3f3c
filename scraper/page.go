package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/picketline/engine"
	"github.com/use-agent/picketline/models"
)

// Render loads req.URL in a pooled tab and returns the rendered HTML with
// its geometry snapshot. It satisfies engine.RenderFunc.
//
// Lifecycle:
//
//  1. Acquire page           – borrow a tab from the pool (or create one)
//  2. DEFER: cleanup         – about:blank + return to pool
//  3. Stealth injection      – before navigation
//  4. Headers and cookies
//  5. Hijack mount           – block resource types and ad networks (before navigation!)
//  6. Navigate + wait        – DOM stable
//  7. Lazy-load scroll       – wake below-the-fold ad slots, back to top
//  8. Geometry snapshot      – stamps data-opl-node on every element
//  9. Extract                – HTML, then status, final URL and title in one eval
func (s *Scraper) Render(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	if err := s.ensureBrowser(); err != nil {
		return nil, err
	}

	// ── 1. Acquire page from pool ─────────────────────────────────────
	s.activePages.Add(1)
	defer s.activePages.Add(-1)

	page, err := s.pagePool.Get(func() (*rod.Page, error) {
		return s.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return nil, models.NewPicketError(models.ErrCodeFetchFailed, "failed to acquire page from pool", err)
	}

	// ── 2. Cleanup uses the page without the request context ─────────
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			s.logger.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		s.pagePool.Put(page)
	}()

	// ── 3. Stealth injection ──────────────────────────────────────────
	if req.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			s.logger.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.renderCfg.ViewportWidth,
		Height:            s.renderCfg.ViewportHeight,
		DeviceScaleFactor: 1,
	})

	// ── 4. Headers and cookies ────────────────────────────────────────
	if len(req.Headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(req.Headers)}.Call(page)
	}
	setCookies(page, req.URL, req.Cookies)

	// ── 5. Hijack ─────────────────────────────────────────────────────
	plan := newBlockPlan(s.renderCfg.BlockedResourceTypes, nil)
	if req.BlockAds {
		plan.ads = s.adRules.Rules()
	}
	if router := setupHijack(page, plan); router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 6. Navigate ───────────────────────────────────────────────────
	p := page.Context(ctx)
	navTimeout := s.renderCfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 15 * time.Second
	}
	if err := p.Timeout(navTimeout).Navigate(req.URL); err != nil {
		return nil, categorizeError(err, "navigation to target URL failed")
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		s.logger.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}

	// ── 7. Lazy-load scroll ───────────────────────────────────────────
	if err := scrollForLazyAds(ctx, page, s.renderCfg.LazyLoadScrolls); err != nil {
		s.logger.Debug("lazy-load scroll incomplete", "url", req.URL, "error", err)
	}

	// ── 8. Geometry snapshot ──────────────────────────────────────────
	geom, err := snapshotGeometry(p)
	if err != nil {
		return nil, categorizeError(err, "failed to measure page")
	}

	// ── 9. Extract ────────────────────────────────────────────────────
	rawHTML, err := p.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to extract page HTML")
	}

	info := readPageInfo(p)
	if info.finalURL == "" {
		info.finalURL = req.URL
	}

	return &engine.FetchResult{
		HTML:       rawHTML,
		Title:      info.title,
		StatusCode: info.status,
		FinalURL:   info.finalURL,
		Geometry:   geom,
	}, nil
}

// pageInfoJS reads the navigation status, location and title in one
// round trip. responseStatus is missing on older Chrome builds.
const pageInfoJS = `() => {
	let status = 0;
	try {
		const nav = performance.getEntriesByType("navigation");
		if (nav.length > 0) status = nav[0].responseStatus || 0;
	} catch (e) {}
	return {status, href: window.location.href, title: document.title};
}`

type pageInfo struct {
	status   int
	finalURL string
	title    string
}

// readPageInfo never fails; an evaluation error yields zero values.
func readPageInfo(p *rod.Page) pageInfo {
	res, err := p.Eval(pageInfoJS)
	if err != nil {
		return pageInfo{}
	}
	v := res.Value
	return pageInfo{
		status:   v.Get("status").Int(),
		finalURL: v.Get("href").Str(),
		title:    v.Get("title").Str(),
	}
}

// setCookies installs the request cookies before navigation. Cookies
// without a domain are scoped to the target host.
func setCookies(page *rod.Page, target string, cookies []http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	host := ""
	if u, err := url.Parse(target); err == nil {
		host = u.Hostname()
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		domain, path := c.Domain, c.Path
		if domain == "" {
			domain = host
		}
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, Domain: domain, Path: path})
	}
	_ = proto.NetworkSetCookies{Cookies: params}.Call(page)
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into PicketErrors so the API layer can
// map them to HTTP statuses.
func categorizeError(err error, msg string) *models.PicketError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewPicketError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewPicketError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewPicketError(models.ErrCodeNavigation, msg, err)
	}
}
