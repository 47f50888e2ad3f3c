// Package controller wires the matcher, detector, card renderer and
// injector into page-level operations: checking a URL, rewriting one page,
// and keeping long-lived page sessions.
package controller

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/injector"
	"github.com/use-agent/picketline/matcher"
	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
	"github.com/use-agent/picketline/webhook"
)

// ActionSource serves the current labor actions and their logo index.
type ActionSource interface {
	Actions(ctx context.Context) []models.LaborAction
	LogoFor(company string) (string, bool)
}

// Options configures page handling.
type Options struct {
	// Mode is the default display mode for matched pages.
	Mode string

	// InjectAds is the default strike-card toggle.
	InjectAds bool

	// BlockPage is the absolute URL of the block page.
	BlockPage string

	// Viewport sizes the static layout used for pages without geometry.
	Viewport dom.Size

	Injector injector.Options

	SessionTTL  time.Duration
	MaxSessions int
}

// Controller runs page operations. It is safe for concurrent use.
type Controller struct {
	src      ActionSource
	matcher  *matcher.Matcher
	det      *detector.Detector
	renderer injector.CardRenderer
	hooks    *webhook.Sender
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	janitorOnce sync.Once
	quit        chan struct{}
	wg          sync.WaitGroup
}

// New returns a Controller. hooks may be nil, in which case session
// webhooks are not sent.
func New(src ActionSource, det *detector.Detector, renderer injector.CardRenderer, hooks *webhook.Sender, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if !models.ValidMode(opts.Mode) {
		opts.Mode = models.ModeBanner
	}
	if opts.BlockPage == "" {
		opts.BlockPage = "/block"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 100
	}
	return &Controller{
		src:      src,
		matcher:  matcher.New(logger),
		det:      det,
		renderer: renderer,
		hooks:    hooks,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
		quit:     make(chan struct{}),
	}
}

// CheckResult is the outcome of matching one URL.
type CheckResult struct {
	URL    string
	Action *models.LaborAction
	Mode   string

	// BlockURL is set when Mode is block and the URL matched.
	BlockURL string
}

// Matched reports whether an action applies.
func (r *CheckResult) Matched() bool { return r.Action != nil }

// Check matches rawURL against the current actions.
func (c *Controller) Check(ctx context.Context, rawURL string) *CheckResult {
	return c.check(rawURL, c.opts.Mode, c.src.Actions(ctx))
}

func (c *Controller) check(rawURL, mode string, actions []models.LaborAction) *CheckResult {
	res := &CheckResult{URL: rawURL, Mode: c.mode(mode)}
	res.Action = c.matcher.Match(rawURL, actions)
	if res.Action == nil {
		metrics.Matches.WithLabelValues("none").Inc()
		return res
	}
	metrics.Matches.WithLabelValues("matched").Inc()
	if res.Mode == models.ModeBlock {
		res.BlockURL = c.BlockURL(rawURL, res.Action)
	}
	return res
}

// ActionByID finds a current action by id.
func (c *Controller) ActionByID(ctx context.Context, id string) *models.LaborAction {
	actions := c.src.Actions(ctx)
	for i := range actions {
		if actions[i].ID == id {
			return &actions[i]
		}
	}
	return nil
}

// Actions returns the current action list.
func (c *Controller) Actions(ctx context.Context) []models.LaborAction {
	return c.src.Actions(ctx)
}

// BlockURL builds the block page link for a matched page.
func (c *Controller) BlockURL(rawURL string, a *models.LaborAction) string {
	q := url.Values{}
	q.Set("url", rawURL)
	if a != nil && a.ID != "" {
		q.Set("action", a.ID)
	}
	return c.opts.BlockPage + "?" + q.Encode()
}

// BypassParam marks a request the user chose to proceed with.
const BypassParam = "opl_bypass"

// BypassURL returns rawURL with the bypass parameter set.
func BypassURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(BypassParam, "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// Mode returns the configured default display mode.
func (c *Controller) Mode() string { return c.opts.Mode }

func (c *Controller) mode(override string) string {
	if models.ValidMode(override) {
		return override
	}
	return c.opts.Mode
}

// InjectAds resolves a per-request strike-card toggle against the default.
func (c *Controller) InjectAds(override *bool) bool {
	if override != nil {
		return *override
	}
	return c.opts.InjectAds
}

func (c *Controller) layoutOption(geom *dom.Geometry) dom.Option {
	if geom != nil {
		return dom.WithGeometry(geom)
	}
	return dom.WithViewport(c.opts.Viewport)
}
