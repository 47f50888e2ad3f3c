package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/picketline/actions"
	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/models"
)

type stubRepo struct{}

func (stubRepo) Actions(context.Context) []models.LaborAction { return nil }

func (stubRepo) Refresh(context.Context) ([]models.LaborAction, error) { return nil, nil }

func (stubRepo) Status() models.ActionsStatus {
	return models.ActionsStatus{Connection: actions.ConnectionOnline}
}

func (stubRepo) ClearCache(context.Context) error { return nil }

func (stubRepo) LogoFor(string) (string, bool) { return "", false }

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Render:    config.RenderConfig{DefaultFetchMode: "http", MaxBodyBytes: 1 << 20},
		Update:    config.UpdateConfig{Version: "9.9.9"},
	}
	det := detector.New(adnet.NewStaticRegistry(adnet.Default()), detector.Options{}, nil)
	ctl := controller.New(stubRepo{}, det, card.NewRenderer(""), nil, controller.Options{}, nil)
	t.Cleanup(ctl.Close)

	return NewRouter(ctx, cfg, Deps{
		Controller: ctl,
		Actions:    stubRepo{},
		BlockPage:  "http://localhost:8080/block",
		StartTime:  time.Now(),
	})
}

func serve(r http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterPublicRoutes(t *testing.T) {
	r := testRouter(t)

	w := serve(r, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"9.9.9"`)

	w = serve(r, http.MethodGet, "/block?url=https%3A%2F%2Fexample.org%2F", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterRequiresAPIKey(t *testing.T) {
	r := testRouter(t)
	body := `{"url":"https://example.org/"}`

	w := serve(r, http.MethodPost, "/api/v1/check", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/check", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/check", "secret", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matched":false`)
}

func TestRouterOmitsVersionWithoutChecker(t *testing.T) {
	r := testRouter(t)
	w := serve(r, http.MethodGet, "/api/v1/version", "secret", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
