package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Render    RenderConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Actions   ActionsConfig
	Injector  InjectorConfig
	AdRules   AdRulesConfig
	Proxy     ProxyConfig
	Session   SessionConfig
	Webhook   WebhookConfig
	Update    UpdateConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// PublicURL is the externally reachable base URL, used to build block-page links.
	PublicURL string // default: "http://localhost:8080"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 4

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Lazy delays launching Chrome until the first browser render.
	Lazy bool // default: true
}

// RenderConfig controls page acquisition for rewrites.
type RenderConfig struct {
	// DefaultFetchMode is "http" (static layout) or "browser" (rendered geometry).
	DefaultFetchMode string // default: "http"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout time.Duration // default: 30s

	// MaxTimeout is the maximum allowed timeout from the client.
	MaxTimeout time.Duration // default: 120s

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s

	// HTTPTimeout is the deadline for the plain HTTP fetcher.
	HTTPTimeout time.Duration // default: 10s

	// ViewportWidth and ViewportHeight size the static layout and the browser window.
	ViewportWidth  int // default: 1366
	ViewportHeight int // default: 768

	// BlockedResourceTypes lists resource types the browser never loads.
	BlockedResourceTypes []string // default: ["Font", "Media"]

	// MaxBodyBytes caps HTML accepted for rewriting.
	MaxBodyBytes int64 // default: 5 MiB

	// LazyLoadScrolls is how many viewports a browser render scrolls to
	// trigger lazy ad slots before measuring.
	LazyLoadScrolls int // default: 3
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the rewrite response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// ActionsConfig controls the labor action repository.
type ActionsConfig struct {
	// APIBase is the Online Picket Line origin. Relative logo paths resolve against it.
	APIBase string // default: "https://onlinepicketline.com"

	// File, when set, replaces the API with a local JSON action list (test mode).
	File string

	// CacheTTL is how long a fetched list is served without refetching.
	CacheTTL time.Duration // default: 5m

	// RefreshSchedule is a cron spec for background refreshes. Empty disables it.
	RefreshSchedule string // default: "@every 15m"

	// FetchTimeout bounds a single upstream fetch.
	FetchTimeout time.Duration // default: 15s

	// RedisAddr selects the redis snapshot store. Empty keeps the list in memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// InjectorConfig controls ad detection and replacement.
type InjectorConfig struct {
	// Mode is "banner" or "block".
	Mode string // default: "banner"

	// InjectAds toggles strike-card replacement.
	InjectAds bool // default: true

	MinWidth         float64       // default: 50
	MinHeight        float64       // default: 40
	TakeoverCoverage float64       // default: 0.8
	OverlayZIndex    int           // default: 999
	Debounce         time.Duration // default: 200ms
	RescanInterval   time.Duration // default: 2s
	MaxRescans       int           // default: 15

	// GuardInterval and GuardChecks drive the overlay-capture check.
	GuardInterval time.Duration // default: 1s
	GuardChecks   int           // default: 60
}

// AdRulesConfig controls the ad-network rule data.
type AdRulesConfig struct {
	// Path overrides the embedded rule file.
	Path string

	// Watch reloads Path when it changes on disk.
	Watch bool // default: true
}

// ProxyConfig controls the filtering proxy.
type ProxyConfig struct {
	Addr string // default: ":8081"

	// CACertFile and CAKeyFile enable HTTPS interception.
	CACertFile string
	CAKeyFile  string

	// BlockAds rejects requests to known ad-network hosts.
	BlockAds bool // default: true

	// BypassTTL is how long a "proceed anyway" click unblocks a host.
	BypassTTL time.Duration // default: 60s
}

// SessionConfig controls long-lived page sessions.
type SessionConfig struct {
	// IdleTTL closes sessions that have not been touched for this long.
	IdleTTL time.Duration // default: 30m

	// MaxSessions caps concurrently open sessions.
	MaxSessions int // default: 100
}

// WebhookConfig controls session lifecycle webhooks.
type WebhookConfig struct {
	// Secret signs payloads with HMAC-SHA256. Empty disables signing.
	Secret string
}

// UpdateConfig controls the release check.
type UpdateConfig struct {
	Owner   string // default: "use-agent"
	Repo    string // default: "picketline"
	Version string // default: "1.0.0"

	// Interval is how long a release lookup is cached.
	Interval time.Duration // default: 24h
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first, without
// overriding variables that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:      envOr("PICKET_HOST", "0.0.0.0"),
			Port:      envIntOr("PICKET_PORT", 8080),
			Mode:      envOr("PICKET_MODE", "release"),
			PublicURL: strings.TrimRight(envOr("PICKET_PUBLIC_URL", "http://localhost:8080"), "/"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("PICKET_HEADLESS", true),
			MaxPages:     envIntOr("PICKET_MAX_PAGES", 4),
			DefaultProxy: os.Getenv("PICKET_BROWSER_PROXY"),
			NoSandbox:    envBoolOr("PICKET_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("PICKET_BROWSER_BIN"),
			Lazy:         envBoolOr("PICKET_BROWSER_LAZY", true),
		},
		Render: RenderConfig{
			DefaultFetchMode:  envOr("PICKET_FETCH_MODE", "http"),
			DefaultTimeout:    envDurationOr("PICKET_DEFAULT_TIMEOUT", 30*time.Second),
			MaxTimeout:        envDurationOr("PICKET_MAX_TIMEOUT", 120*time.Second),
			NavigationTimeout: envDurationOr("PICKET_NAV_TIMEOUT", 15*time.Second),
			HTTPTimeout:       envDurationOr("PICKET_HTTP_TIMEOUT", 10*time.Second),
			ViewportWidth:     envIntOr("PICKET_VIEWPORT_WIDTH", 1366),
			ViewportHeight:    envIntOr("PICKET_VIEWPORT_HEIGHT", 768),
			BlockedResourceTypes: envSliceOr("PICKET_BLOCKED_RESOURCES", []string{
				"Font", "Media",
			}),
			MaxBodyBytes:    int64(envIntOr("PICKET_MAX_BODY_BYTES", 5<<20)),
			LazyLoadScrolls: envIntOr("PICKET_LAZY_SCROLLS", 3),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PICKET_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PICKET_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PICKET_RATE_RPS", 5.0),
			Burst:             envIntOr("PICKET_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PICKET_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("PICKET_LOG_LEVEL", "info"),
			Format: envOr("PICKET_LOG_FORMAT", "json"),
		},
		Actions: ActionsConfig{
			APIBase:         strings.TrimRight(envOr("PICKET_API_BASE", "https://onlinepicketline.com"), "/"),
			File:            os.Getenv("PICKET_ACTIONS_FILE"),
			CacheTTL:        envDurationOr("PICKET_ACTIONS_TTL", 5*time.Minute),
			RefreshSchedule: envOr("PICKET_ACTIONS_SCHEDULE", "@every 15m"),
			FetchTimeout:    envDurationOr("PICKET_ACTIONS_FETCH_TIMEOUT", 15*time.Second),
			RedisAddr:       os.Getenv("PICKET_REDIS_ADDR"),
			RedisPassword:   os.Getenv("PICKET_REDIS_PASSWORD"),
			RedisDB:         envIntOr("PICKET_REDIS_DB", 0),
		},
		Injector: InjectorConfig{
			Mode:             envOr("PICKET_BLOCK_MODE", "banner"),
			InjectAds:        envBoolOr("PICKET_INJECT_ADS", true),
			MinWidth:         envFloatOr("PICKET_AD_MIN_WIDTH", 50),
			MinHeight:        envFloatOr("PICKET_AD_MIN_HEIGHT", 40),
			TakeoverCoverage: envFloatOr("PICKET_TAKEOVER_COVERAGE", 0.8),
			OverlayZIndex:    envIntOr("PICKET_OVERLAY_ZINDEX", 999),
			Debounce:         envDurationOr("PICKET_SCAN_DEBOUNCE", 200*time.Millisecond),
			RescanInterval:   envDurationOr("PICKET_RESCAN_INTERVAL", 2*time.Second),
			MaxRescans:       envIntOr("PICKET_MAX_RESCANS", 15),
			GuardInterval:    envDurationOr("PICKET_GUARD_INTERVAL", time.Second),
			GuardChecks:      envIntOr("PICKET_GUARD_CHECKS", 60),
		},
		AdRules: AdRulesConfig{
			Path:  os.Getenv("PICKET_AD_RULES"),
			Watch: envBoolOr("PICKET_AD_RULES_WATCH", true),
		},
		Proxy: ProxyConfig{
			Addr:       envOr("PICKET_PROXY_ADDR", ":8081"),
			CACertFile: os.Getenv("PICKET_PROXY_CA_CERT"),
			CAKeyFile:  os.Getenv("PICKET_PROXY_CA_KEY"),
			BlockAds:   envBoolOr("PICKET_PROXY_BLOCK_ADS", true),
			BypassTTL:  envDurationOr("PICKET_PROXY_BYPASS_TTL", 60*time.Second),
		},
		Session: SessionConfig{
			IdleTTL:     envDurationOr("PICKET_SESSION_TTL", 30*time.Minute),
			MaxSessions: envIntOr("PICKET_MAX_SESSIONS", 100),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("PICKET_WEBHOOK_SECRET"),
		},
		Update: UpdateConfig{
			Owner:    envOr("PICKET_UPDATE_OWNER", "use-agent"),
			Repo:     envOr("PICKET_UPDATE_REPO", "picketline"),
			Version:  envOr("PICKET_VERSION", "1.0.0"),
			Interval: envDurationOr("PICKET_UPDATE_INTERVAL", 24*time.Hour),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
