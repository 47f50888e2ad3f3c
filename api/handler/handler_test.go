package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/picketline/actions"
	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/cache"
	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/engine"
	"github.com/use-agent/picketline/injector"
	"github.com/use-agent/picketline/models"
	"github.com/use-agent/picketline/update"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRepo struct {
	list       []models.LaborAction
	status     models.ActionsStatus
	refreshErr error
	cleared    bool
}

func (r *fakeRepo) Actions(context.Context) []models.LaborAction { return r.list }

func (r *fakeRepo) Refresh(context.Context) ([]models.LaborAction, error) {
	if r.refreshErr != nil {
		return nil, r.refreshErr
	}
	return r.list, nil
}

func (r *fakeRepo) Status() models.ActionsStatus { return r.status }

func (r *fakeRepo) ClearCache(context.Context) error {
	r.cleared = true
	return nil
}

func (r *fakeRepo) LogoFor(company string) (string, bool) {
	if strings.EqualFold(company, "acme") {
		return "https://logos.example.org/acme.png", true
	}
	return "", false
}

func newRepo() *fakeRepo {
	return &fakeRepo{
		list: []models.LaborAction{{
			ID:            "acme-strike",
			Company:       "Acme",
			Type:          "strike",
			Status:        "active",
			Title:         "Acme workers on strike",
			ExtensionData: &models.ExtensionData{MatchingURLRegexes: []string{`acme\.com`}},
		}},
		status: models.ActionsStatus{Connection: actions.ConnectionOnline, Count: 1, Source: "fake"},
	}
}

type fakeFetcher struct {
	mu   sync.Mutex
	mode string
	req  *engine.FetchRequest
	res  *engine.FetchResult
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, mode string, req *engine.FetchRequest) (*engine.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	f.req = req
	return f.res, f.err
}

type fakeVersions struct {
	info *update.Info
	err  error
}

func (v *fakeVersions) Current() string { return "1.0.0" }

func (v *fakeVersions) Check(context.Context, bool) (*update.Info, error) {
	return v.info, v.err
}

func renderCfg() config.RenderConfig {
	return config.RenderConfig{
		DefaultFetchMode: "http",
		MaxTimeout:       120 * time.Second,
		MaxBodyBytes:     1 << 20,
	}
}

func newController(t *testing.T, repo *fakeRepo, mode string) *controller.Controller {
	t.Helper()
	det := detector.New(adnet.NewStaticRegistry(adnet.Default()), detector.Options{
		Debounce:       20 * time.Millisecond,
		RescanInterval: time.Hour,
		MaxRescans:     1,
	}, nil)
	ctl := controller.New(repo, det, card.NewRenderer(""), nil, controller.Options{
		Mode:      mode,
		InjectAds: true,
		BlockPage: "http://localhost:8080/block",
		Injector:  injector.Options{GuardChecks: -1},
	}, nil)
	t.Cleanup(ctl.Close)
	return ctl
}

const adPage = `<html><head></head><body><p>news</p>` +
	`<div class="ad-slot" style="width:300px;height:250px"><img src="banner.gif"></div>` +
	`</body></html>`

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCheckHandler(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBanner)
	r := gin.New()
	r.POST("/check", Check(ctl, card.NewMarkdownConverter()))

	w := do(t, r, http.MethodPost, "/check", gin.H{"url": "https://acme.com/x", "format": "markdown"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.CheckResponse](t, w)
	assert.True(t, resp.Matched)
	assert.Equal(t, models.ModeBanner, resp.Mode)
	assert.Equal(t, "acme-strike", resp.Action.ID)
	assert.Contains(t, resp.Markdown, "Acme workers on strike")

	w = do(t, r, http.MethodPost, "/check", gin.H{"url": "https://example.org/"})
	resp = decode[models.CheckResponse](t, w)
	assert.False(t, resp.Matched)
	assert.Nil(t, resp.Action)

	w = do(t, r, http.MethodPost, "/check", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errResp := decode[models.ErrorResponse](t, w)
	assert.Equal(t, models.ErrCodeInvalidInput, errResp.Error.Code)
}

func TestRewriteHandlerSuppliedHTML(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBanner)
	cc := cache.New(10)
	t.Cleanup(cc.Close)
	r := gin.New()
	r.POST("/rewrite", Rewrite(ctl, nil, cc, renderCfg()))

	body := gin.H{"url": "https://acme.com/news", "html": adPage, "max_age": 60000}
	w := do(t, r, http.MethodPost, "/rewrite", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.RewriteResponse](t, w)
	assert.Equal(t, "miss", resp.CacheStatus)
	assert.True(t, resp.Stats.Matched)
	assert.Equal(t, 1, resp.Stats.AdsReplaced)
	assert.Contains(t, resp.HTML, card.BannerID)
	assert.Empty(t, resp.EngineUsed)

	w = do(t, r, http.MethodPost, "/rewrite", body)
	resp = decode[models.RewriteResponse](t, w)
	assert.Equal(t, "hit", resp.CacheStatus)
	assert.Contains(t, resp.HTML, card.BannerID)

	body["inject_ads"] = false
	w = do(t, r, http.MethodPost, "/rewrite", body)
	resp = decode[models.RewriteResponse](t, w)
	assert.Equal(t, "miss", resp.CacheStatus, "options are part of the cache key")
	assert.Zero(t, resp.Stats.AdsReplaced)
}

func TestRewriteHandlerFetches(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBanner)
	f := &fakeFetcher{res: &engine.FetchResult{
		HTML:       adPage,
		FinalURL:   "https://www.acme.com/landing",
		EngineName: "http",
		StatusCode: 200,
	}}
	r := gin.New()
	r.POST("/rewrite", Rewrite(ctl, f, nil, renderCfg()))

	w := do(t, r, http.MethodPost, "/rewrite", gin.H{
		"url":     "https://short.example/abc",
		"timeout": 10,
		"cookies": []gin.H{{"name": "sid", "value": "1"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.RewriteResponse](t, w)
	assert.Equal(t, "https://short.example/abc", resp.URL)
	assert.Equal(t, "https://www.acme.com/landing", resp.FinalURL)
	assert.True(t, resp.Stats.Matched, "matching runs on the final URL")
	assert.Equal(t, "http", resp.EngineUsed)

	assert.Equal(t, "http", f.mode)
	assert.Equal(t, 10*time.Second, f.req.Timeout)
	require.Len(t, f.req.Cookies, 1)
	assert.Equal(t, "sid", f.req.Cookies[0].Name)
}

func TestRewriteHandlerErrors(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBanner)

	t.Run("no fetcher", func(t *testing.T) {
		r := gin.New()
		r.POST("/rewrite", Rewrite(ctl, nil, nil, renderCfg()))
		w := do(t, r, http.MethodPost, "/rewrite", gin.H{"url": "https://acme.com/"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized html", func(t *testing.T) {
		cfg := renderCfg()
		cfg.MaxBodyBytes = 16
		r := gin.New()
		r.POST("/rewrite", Rewrite(ctl, nil, nil, cfg))
		w := do(t, r, http.MethodPost, "/rewrite", gin.H{"url": "https://acme.com/", "html": adPage})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := &fakeFetcher{err: models.NewPicketError(models.ErrCodeFetchFailed, "connection refused", nil)}
		r := gin.New()
		r.POST("/rewrite", Rewrite(ctl, f, nil, renderCfg()))
		w := do(t, r, http.MethodPost, "/rewrite", gin.H{"url": "https://acme.com/"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, models.ErrCodeFetchFailed, decode[models.ErrorResponse](t, w).Error.Code)
	})

	t.Run("bad mode", func(t *testing.T) {
		r := gin.New()
		r.POST("/rewrite", Rewrite(ctl, nil, nil, renderCfg()))
		w := do(t, r, http.MethodPost, "/rewrite", gin.H{"url": "https://acme.com/", "html": adPage, "mode": "loud"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRewriteHandlerBlockMode(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBlock)
	r := gin.New()
	r.POST("/rewrite", Rewrite(ctl, nil, nil, renderCfg()))

	w := do(t, r, http.MethodPost, "/rewrite", gin.H{"url": "https://acme.com/", "html": adPage})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.RewriteResponse](t, w)
	assert.True(t, resp.Blocked)
	assert.True(t, strings.HasPrefix(resp.RedirectURL, "http://localhost:8080/block?"))
	assert.Equal(t, adPage, resp.HTML)
}

func sessionRouter(ctl *controller.Controller) *gin.Engine {
	r := gin.New()
	r.POST("/sessions", OpenSession(ctl, nil, renderCfg()))
	r.GET("/sessions/:id", GetSession(ctl))
	r.POST("/sessions/:id/navigate", NavigateSession(ctl, nil, renderCfg()))
	r.POST("/sessions/:id/mutations", MutateSession(ctl))
	r.DELETE("/sessions/:id", CloseSession(ctl))
	return r
}

func TestSessionLifecycle(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBanner)
	r := sessionRouter(ctl)

	w := do(t, r, http.MethodPost, "/sessions", gin.H{"url": "https://example.org/", "html": "<html><body><p>hi</p></body></html>"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode[models.SessionResponse](t, w)
	id := opened.Session.ID
	require.NotEmpty(t, id)
	assert.False(t, opened.Session.Matched)
	assert.NotContains(t, opened.HTML, card.BannerID)

	w = do(t, r, http.MethodPost, "/sessions/"+id+"/navigate", gin.H{"url": "https://acme.com/deals", "html": "<html><body><p>deals</p></body></html>"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	nav := decode[models.SessionResponse](t, w)
	assert.True(t, nav.Session.Matched)
	assert.Equal(t, 1, nav.Session.Stats.Navigations)
	assert.Contains(t, nav.HTML, card.BannerID)
	assert.Contains(t, nav.HTML, "<p>deals</p>")

	w = do(t, r, http.MethodPost, "/sessions/"+id+"/mutations", gin.H{
		"mutations": []gin.H{{"op": "append", "selector": "body", "html": `<div class="late">x</div>`}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	mut := decode[models.SessionResponse](t, w)
	assert.Equal(t, 1, mut.Session.Stats.Mutations)
	assert.Contains(t, mut.HTML, `class="late"`)

	w = do(t, r, http.MethodPost, "/sessions/"+id+"/mutations", gin.H{
		"mutations": []gin.H{{"op": "append", "selector": "[[["}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[models.SessionResponse](t, w).Session.ID)

	w = do(t, r, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.ErrCodeSessionNotFound, decode[models.ErrorResponse](t, w).Error.Code)
}

func TestActionsHandlers(t *testing.T) {
	repo := newRepo()
	r := gin.New()
	r.GET("/actions", ListActions(repo))
	r.POST("/actions/refresh", RefreshActions(repo))
	r.DELETE("/actions/cache", ClearActionCache(repo))

	w := do(t, r, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ActionsResponse](t, w)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, actions.ConnectionOnline, list.Status.Connection)

	w = do(t, r, http.MethodDelete, "/actions/cache", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, repo.cleared)

	repo.refreshErr = models.NewPicketError(models.ErrCodeUpstreamUnavailable, "upstream down", errors.New("503"))
	w = do(t, r, http.MethodPost, "/actions/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRulesHandler(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBanner)
	r := gin.New()
	r.GET("/rules", Rules(ctl, adnet.NewStaticRegistry(adnet.Default()), "http://localhost:8080/block"))

	w := do(t, r, http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[rulesResponse](t, w)
	assert.Equal(t, models.ModeBanner, resp.Mode)
	assert.Zero(t, resp.Count)

	w = do(t, r, http.MethodGet, "/rules?mode=block", nil)
	resp = decode[rulesResponse](t, w)
	require.NotZero(t, resp.Count)
	assert.Contains(t, resp.Rules[0].Action.Redirect.URL, "http://localhost:8080/block")

	w = do(t, r, http.MethodGet, "/rules?block_ads=true", nil)
	resp = decode[rulesResponse](t, w)
	assert.NotZero(t, resp.Count)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/rules?mode=loud", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/rules?block_ads=maybe", nil).Code)
}

func TestBlockPageHandler(t *testing.T) {
	ctl := newController(t, newRepo(), models.ModeBlock)
	r := gin.New()
	r.GET("/block", BlockPage(ctl))

	w := do(t, r, http.MethodGet, "/block?url=https%3A%2F%2Facme.com%2Fx&action=acme-strike", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Acme workers on strike")
	assert.Contains(t, w.Body.String(), "opl_bypass")

	w = do(t, r, http.MethodGet, "/block?url=https%3A%2F%2Facme.com%2Fx", nil)
	assert.Contains(t, w.Body.String(), "Acme workers on strike", "action is found by matching the url")

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/block", nil).Code)
}

func TestHealthHandler(t *testing.T) {
	repo := newRepo()
	ctl := newController(t, repo, models.ModeBanner)
	r := gin.New()
	r.GET("/health", Health(repo, ctl, nil, "1.2.3", time.Now()))

	w := do(t, r, http.MethodGet, "/health", nil)
	resp := decode[models.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Zero(t, resp.Sessions)

	repo.status.Connection = actions.ConnectionOffline
	w = do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, "degraded", decode[models.HealthResponse](t, w).Status)
}

func TestVersionHandler(t *testing.T) {
	vc := &fakeVersions{info: &update.Info{
		Current:         "1.0.0",
		Latest:          &update.Release{Version: "1.1.0"},
		UpdateAvailable: true,
	}}
	r := gin.New()
	r.GET("/version", Version(vc))

	w := do(t, r, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["update_available"])
	assert.Equal(t, "1.0.0", body["current_version"])

	vc.err = models.NewPicketError(models.ErrCodeUpstreamUnavailable, "release lookup failed", nil)
	w = do(t, r, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
