package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/picketline/models"
)

const blocklistJSON = `{
  "blocklist": [
    {"url": "https://www.acme.com/shop", "employer": "Acme Corp", "employerId": "emp-1", "reason": "Workers on STRIKE for fair pay", "locationName": "Seattle", "divisionName": "Retail", "moreInfoUrl": "https://picket.test/acme", "startDate": "2024-01-15"},
    {"url": "acme.co.uk", "employer": "Acme Corp", "employerId": "emp-1", "reason": "Workers on STRIKE for fair pay", "locationName": "Seattle"},
    {"url": "https://globex.com", "employer": "Globex", "employerId": "emp-2", "reason": "Customer boycott"},
    {"url": "https://initech.com", "employer": "Initech", "employerId": "emp-3"}
  ],
  "employers": [
    {"id": "emp-2", "name": "Globex", "logoUrl": "/logos/globex.png"}
  ],
  "actionResources": {
    "resources": [
      {"organization": "Acme Corp Workers United", "title": "Strike fund", "url": "https://fund.test"}
    ]
  },
  "extensionData": {
    "_optimizedPatterns": {"combined": "acme|globex"},
    "Acme Corp": {"matchingUrlRegexes": ["acme\\.(com|co\\.uk)"], "unionLogoUrl": "https://union.test/logo.png"}
  }
}`

func TestTransform(t *testing.T) {
	var resp models.BlocklistResponse
	require.NoError(t, json.Unmarshal([]byte(blocklistJSON), &resp))
	got := Transform(&resp)
	require.Len(t, got, 3)

	acme := got[0]
	assert.Equal(t, "emp-1", acme.ID)
	assert.Equal(t, "Labor Action: Acme Corp", acme.Title)
	assert.Equal(t, "Acme Corp", acme.Company)
	assert.Equal(t, "strike", acme.Type)
	assert.Equal(t, models.StatusActive, acme.Status)
	assert.Equal(t, []string{"acme.com", "acme.co.uk"}, acme.TargetURLs)
	assert.Equal(t, []string{"Seattle"}, acme.Locations)
	assert.Equal(t, []string{"Retail"}, acme.Divisions)
	assert.Equal(t, "https://picket.test/acme", acme.MoreInfo)
	require.Len(t, acme.ActionResources, 1)
	require.NotNil(t, acme.ExtensionData)
	assert.Equal(t, []string{`acme\.(com|co\.uk)`}, acme.ExtensionData.MatchingURLRegexes)

	assert.Equal(t, "boycott", got[1].Type)
	assert.Nil(t, got[1].ExtensionData)
	assert.Equal(t, "labor_action", got[2].Type)
	assert.Equal(t, "Active labor action", got[2].Description)

	assert.Empty(t, Transform(nil))
	assert.Empty(t, Transform(&models.BlocklistResponse{}))
}

func TestExtractActionType(t *testing.T) {
	tests := map[string]string{
		"":                      "labor_action",
		"Unfair labor practice": "labor_action",
		"Teachers strike":       "strike",
		"BOYCOTT in effect":     "boycott",
		"Informational picket":  "picket",
		"Protest at HQ":         "protest",
	}
	for reason, want := range tests {
		assert.Equal(t, want, ExtractActionType(reason), reason)
	}
}

func TestLogoIndex(t *testing.T) {
	var resp models.BlocklistResponse
	require.NoError(t, json.Unmarshal([]byte(blocklistJSON), &resp))
	idx := LogoIndex(Transform(&resp), resp.Employers)
	assert.Equal(t, "/logos/globex.png", idx["globex"])
	assert.Equal(t, "https://union.test/logo.png", idx["acmecorp"])
	assert.NotContains(t, idx, "initech")
}

func blocklistServer(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/blocklist", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "false", r.URL.Query().Get("includeInactive"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		code := int(status.Load())
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(blocklistJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceFetch(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := blocklistServer(t, &status)

	snap, err := NewHTTPSource(srv.URL+"/", nil, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Actions, 3)
	assert.Equal(t, "/logos/globex.png", snap.Logos["globex"])
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestHTTPSourceErrors(t *testing.T) {
	var status atomic.Int32
	srv := blocklistServer(t, &status)
	src := NewHTTPSource(srv.URL, nil, time.Second)

	status.Store(http.StatusTooManyRequests)
	_, err := src.Fetch(context.Background())
	var pe *models.PicketError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, models.ErrCodeUpstreamRateLimited, pe.Code)
	assert.Equal(t, 30*time.Second, pe.RetryAfter)

	status.Store(http.StatusServiceUnavailable)
	_, err = src.Fetch(context.Background())
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, models.ErrCodeUpstreamUnavailable, pe.Code)

	_, err = NewHTTPSource("", nil, time.Second).Fetch(context.Background())
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, models.ErrCodeInvalidInput, pe.Code)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"1","company":"Acme","logoUrl":"https://l.test/a.png","_extensionData":{"matchingUrlRegexes":[]}}]`), 0o600))

	snap, err := NewFileSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Actions, 1)
	regexes, ok := snap.Actions[0].MatchingRegexes()
	assert.True(t, ok)
	assert.Empty(t, regexes)
	assert.Equal(t, "https://l.test/a.png", snap.Logos["acme"])

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background())
	assert.Error(t, err)
}

type stubSource struct {
	calls atomic.Int32
	err   atomic.Pointer[error]

	// gate, when set, holds every fetch until it is closed.
	gate chan struct{}
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(context.Context) (*Snapshot, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if e := s.err.Load(); e != nil {
		return nil, *e
	}
	list := []models.LaborAction{{ID: "1", Company: "Acme", Status: "active"}}
	return &Snapshot{Actions: list, Logos: map[string]string{"acme": "https://l.test/a.png"}, FetchedAt: time.Now()}, nil
}

func (s *stubSource) fail(err error) { s.err.Store(&err) }

func TestRepositoryCachesWithinTTL(t *testing.T) {
	src := &stubSource{}
	repo := NewRepository(src, nil, time.Minute, nil)
	ctx := context.Background()

	assert.Len(t, repo.Actions(ctx), 1)
	assert.Len(t, repo.Actions(ctx), 1)
	assert.Equal(t, int32(1), src.calls.Load())

	st := repo.Status()
	assert.Equal(t, ConnectionOnline, st.Connection)
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, "stub", st.Source)

	logo, ok := repo.LogoFor("  ACME ")
	assert.True(t, ok)
	assert.Equal(t, "https://l.test/a.png", logo)
	_, ok = repo.LogoFor("Globex")
	assert.False(t, ok)

	require.NoError(t, repo.ClearCache(ctx))
	repo.Actions(ctx)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestRepositoryConcurrentExpiryFetchesOnce(t *testing.T) {
	src := &stubSource{gate: make(chan struct{})}
	repo := NewRepository(src, nil, time.Minute, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, repo.Actions(context.Background()), 1)
		}()
	}
	assert.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load(), "waiters reuse the snapshot stored while they queued")

	_, err := repo.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load(), "an explicit refresh always fetches")
}

func TestRepositoryServesStaleAndGoesOffline(t *testing.T) {
	src := &stubSource{}
	store := NewMemoryStore()
	repo := NewRepository(src, store, time.Minute, nil)
	ctx := context.Background()

	assert.Len(t, repo.Actions(ctx), 1)
	snap, _ := store.Load(ctx)
	snap.FetchedAt = time.Now().Add(-time.Hour)

	src.fail(errors.New("upstream down"))
	assert.Len(t, repo.Actions(ctx), 1, "stale snapshot is served when refresh fails")
	assert.Equal(t, ConnectionOnline, repo.Status().Connection)

	_, _ = repo.Refresh(ctx)
	_, err := repo.Refresh(ctx)
	require.Error(t, err)
	st := repo.Status()
	assert.Equal(t, ConnectionOffline, st.Connection)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, "upstream down", st.LastError)
}

func TestRepositoryEmptyWithoutCache(t *testing.T) {
	src := &stubSource{}
	src.fail(errors.New("nope"))
	repo := NewRepository(src, nil, time.Minute, nil)
	got := repo.Actions(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)
	ctx := context.Background()

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	in := &Snapshot{
		Actions: []models.LaborAction{{
			ID:            "1",
			Company:       "Acme",
			ExtensionData: &models.ExtensionData{MatchingURLRegexes: []string{}},
		}},
		Logos:     map[string]string{"acme": "https://l.test/a.png"},
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, in))
	assert.True(t, mr.Exists(RedisKey))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, in.FetchedAt.Equal(out.FetchedAt))
	regexes, ok := out.Actions[0].MatchingRegexes()
	assert.True(t, ok, "an empty regex list survives the round trip")
	assert.Empty(t, regexes)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists(RedisKey))
}

func TestRedisClientPing(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewRedisClient(context.Background(), "", "", 0)
	assert.Error(t, err)
}

func TestSchedulerRefreshesOnStart(t *testing.T) {
	src := &stubSource{}
	repo := NewRepository(src, nil, time.Minute, nil)
	s, err := NewScheduler(repo, "@every 1h", time.Second, nil)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, ConnectionOnline, repo.Status().Connection)

	_, err = NewScheduler(repo, "not a schedule", time.Second, nil)
	assert.Error(t, err)
}
