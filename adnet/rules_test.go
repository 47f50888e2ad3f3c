package adnet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	r := Default()
	assert.NotEmpty(t, r.Version)
	assert.Contains(t, r.Selectors, "ins.adsbygoogle")
	assert.Contains(t, r.Domains(), "doubleclick.net")
	assert.Equal(t, []string{"script", "image", "sub_frame", "xmlhttprequest", "stylesheet", "media"}, r.ResourceTypes)
	assert.NotNil(t, r.Matcher())
}

func TestIframeAndHostMatching(t *testing.T) {
	r := Default()

	tests := []struct {
		src  string
		want bool
	}{
		{"https://tpc.googlesyndication.com/safeframe/1-0-40/html/container.html", true},
		{"//cdn.taboola.com/libtrc/site/loader.js", true},
		{"https://www.youtube.com/embed/xyz", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := r.MatchesIframeSrc(tt.src); got != tt.want {
			t.Errorf("MatchesIframeSrc(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}

	assert.Equal(t, "Google", r.ProviderFor("securepubads.g.doubleclick.net"))
	assert.Equal(t, "Criteo", r.ProviderFor("static.criteo.net:443"))
	assert.True(t, r.IsAdHost("adnxs.com"))
	assert.False(t, r.IsAdHost("notadnxs.com"))
	assert.False(t, r.IsAdHost("example.com"))
}

func TestParseDropsInvalidSelectors(t *testing.T) {
	r, err := Parse([]byte(`
version: test
selectors: ["div[", ".ad-slot"]
networks: [{provider: X, domains: [ads.example]}]
`), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".ad-slot"}, r.Selectors)
	assert.True(t, r.IsAdHost("cdn.ads.example"))
}

func TestParseRejectsEmptyRules(t *testing.T) {
	_, err := Parse([]byte(`version: empty`), nil)
	assert.Error(t, err)
}

func TestRegistryWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: one\nselectors: [.one]\n"), 0o644))

	reg, err := NewRegistry(path, nil)
	require.NoError(t, err)
	reg.debounce = 20 * time.Millisecond
	assert.Equal(t, "one", reg.Rules().Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("version: two\nselectors: [.two]\n"), 0o644))
	assert.Eventually(t, func() bool { return reg.Rules().Version == "two" }, 3*time.Second, 20*time.Millisecond)

	// A broken file keeps the last good rules.
	require.NoError(t, os.WriteFile(path, []byte("version: [broken"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "two", reg.Rules().Version)
}
