package models

import "time"

// CheckRequest is the payload for POST /api/v1/check.
type CheckRequest struct {
	// URL is the page to match against the labor action list. Required.
	URL string `json:"url" binding:"required"`

	// Format adds a rendered summary of the matched action.
	// Allowed: "json" (default), "markdown".
	Format string `json:"format,omitempty" binding:"omitempty,oneof=json markdown"`
}

// CheckResponse is the response for POST /api/v1/check.
type CheckResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Matched bool   `json:"matched"`

	// Mode is the display mode the caller should apply to a matched page.
	Mode string `json:"mode,omitempty"`

	// BlockURL is the block page for this match, set in block mode only.
	BlockURL string `json:"block_url,omitempty"`

	Action   *LaborAction `json:"action,omitempty"`
	Markdown string       `json:"markdown,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// Cookie is a cookie to set before fetching a page.
type Cookie struct {
	Name   string `json:"name" binding:"required"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// PageSource says where a page comes from: supplied HTML, or a fetch.
type PageSource struct {
	// URL is the page address. Required even when HTML is supplied, since
	// matching runs on it.
	URL string `json:"url" binding:"required,url"`

	// HTML, when set, is used as is and nothing is fetched.
	HTML string `json:"html,omitempty"`

	// FetchMode controls how the page is fetched when HTML is empty.
	// "http": plain fetch, static layout. "browser": headless Chrome with a
	// geometry snapshot. "auto": HTTP first, browser on failure.
	FetchMode string `json:"fetch_mode,omitempty" binding:"omitempty,oneof=auto browser http"`

	// BlockAds stops ad-network requests during a browser fetch.
	BlockAds bool `json:"block_ads,omitempty"`

	Stealth bool              `json:"stealth,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies []Cookie          `json:"cookies,omitempty" binding:"omitempty,dive"`

	// Timeout is the fetch deadline in seconds. Default: 30. Max: 120.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`
}

// RewriteRequest is the payload for POST /api/v1/rewrite.
type RewriteRequest struct {
	PageSource

	// Mode overrides the configured display mode: "banner" or "block".
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=banner block"`

	// InjectAds overrides the configured strike-card replacement toggle.
	InjectAds *bool `json:"inject_ads,omitempty"`

	// MaxAge, in milliseconds, allows a cached rewrite of the same page and
	// options. 0 disables the cache.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *PageSource) Defaults(fetchMode string) {
	if r.Timeout == 0 {
		r.Timeout = 30
	}
	if r.FetchMode == "" {
		r.FetchMode = fetchMode
	}
}

// RewriteStats reports what one rewrite did.
type RewriteStats struct {
	Matched        bool `json:"matched"`
	BannerInserted bool `json:"banner_inserted"`
	AdsFound       int  `json:"ads_found"`
	AdsReplaced    int  `json:"ads_replaced"`
	LogosPatched   int  `json:"logos_patched"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	TotalMs   int64 `json:"total_ms"`
	FetchMs   int64 `json:"fetch_ms"`
	RewriteMs int64 `json:"rewrite_ms"`
}

// RewriteResponse is the response for POST /api/v1/rewrite.
type RewriteResponse struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	FinalURL string `json:"final_url,omitempty"`
	Mode     string `json:"mode,omitempty"`

	// Blocked is set in block mode for a matched page; RedirectURL is then
	// the block page and HTML is the page unchanged.
	Blocked     bool   `json:"blocked"`
	RedirectURL string `json:"redirect_url,omitempty"`

	Action *LaborAction `json:"action,omitempty"`
	HTML   string       `json:"html"`
	Stats  RewriteStats `json:"stats"`
	Timing TimingInfo   `json:"timing"`

	// EngineUsed is the fetch engine, empty for supplied HTML.
	EngineUsed string `json:"engine_used,omitempty"`

	// CacheStatus is "hit", "miss", or empty when caching was not requested.
	CacheStatus string `json:"cache_status,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// SessionRequest is the payload for POST /api/v1/sessions.
type SessionRequest struct {
	PageSource

	Mode      string `json:"mode,omitempty" binding:"omitempty,oneof=banner block"`
	InjectAds *bool  `json:"inject_ads,omitempty"`

	// WebhookURL receives a session.closed event.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`
}

// NavigateRequest is the payload for POST /api/v1/sessions/:id/navigate.
// It models a single-page-app route change: new URL, new content.
type NavigateRequest struct {
	PageSource
}

// Mutation operations.
const (
	MutationAppend  = "append"
	MutationReplace = "replace"
	MutationSetAttr = "set_attr"
	MutationRemove  = "remove"
)

// Mutation is one scripted DOM change applied to every selector match.
type Mutation struct {
	Op       string            `json:"op" binding:"required,oneof=append replace set_attr remove"`
	Selector string            `json:"selector" binding:"required"`
	HTML     string            `json:"html,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// MutationRequest is the payload for POST /api/v1/sessions/:id/mutations.
type MutationRequest struct {
	Mutations []Mutation `json:"mutations" binding:"required,min=1,dive"`

	// Settle, in milliseconds, waits for the detection loop to react
	// before the session is returned. Default: 0.
	Settle int `json:"settle,omitempty" binding:"omitempty,min=0,max=10000"`
}

// SessionStats are the running counters of a session.
type SessionStats struct {
	Navigations  int `json:"navigations"`
	Mutations    int `json:"mutations"`
	AdsReplaced  int `json:"ads_replaced"`
	LogosPatched int `json:"logos_patched"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID             string       `json:"id"`
	URL            string       `json:"url"`
	Mode           string       `json:"mode"`
	Matched        bool         `json:"matched"`
	Action         *LaborAction `json:"action,omitempty"`
	BlockURL       string       `json:"block_url,omitempty"`
	InjectorActive bool         `json:"injector_active"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActive     time.Time    `json:"last_active"`
	Stats          SessionStats `json:"stats"`
}

// SessionResponse is the response for the session endpoints.
type SessionResponse struct {
	Success bool         `json:"success"`
	Session *SessionInfo `json:"session,omitempty"`
	HTML    string       `json:"html,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ActionsStatus describes the action repository's view of the upstream.
type ActionsStatus struct {
	Connection  string    `json:"connection_status"`
	Failures    int       `json:"failure_count"`
	LastRefresh time.Time `json:"last_refresh,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	Count       int       `json:"count"`
	Source      string    `json:"source"`
}

// ActionsResponse is the response for GET /api/v1/actions and the refresh.
type ActionsResponse struct {
	Success bool          `json:"success"`
	Actions []LaborAction `json:"actions"`
	Count   int           `json:"count"`
	Status  ActionsStatus `json:"status"`
	Error   *ErrorDetail  `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string        `json:"status"` // "healthy" or "degraded"
	Uptime    string        `json:"uptime"`
	Actions   ActionsStatus `json:"actions"`
	Sessions  int           `json:"sessions"`
	PoolStats any           `json:"pool_stats,omitempty"`
	Version   string        `json:"version"`
}

// ErrorResponse is the body of any failed API call.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
