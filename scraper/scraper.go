package scraper

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/models"
)

// Scraper manages the browser lifecycle and the page pool used for
// rendered rewrites. It is safe for concurrent use.
type Scraper struct {
	browserCfg config.BrowserConfig
	renderCfg  config.RenderConfig
	adRules    *adnet.Registry
	logger     *slog.Logger

	launchOnce sync.Once
	launchErr  error
	browser    *rod.Browser
	pagePool   rod.Pool[rod.Page]

	activePages atomic.Int32
	startTime   time.Time
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	Launched    bool `json:"launched"`
	MaxPages    int  `json:"max_pages"`
	ActivePages int  `json:"active_pages"`
}

// NewScraper prepares a Scraper. Chrome is launched immediately unless the
// browser config asks for a lazy start, in which case the first Render
// launches it.
func NewScraper(browserCfg config.BrowserConfig, renderCfg config.RenderConfig, adRules *adnet.Registry, logger *slog.Logger) (*Scraper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if adRules == nil {
		adRules = adnet.NewStaticRegistry(adnet.Default())
	}
	s := &Scraper{
		browserCfg: browserCfg,
		renderCfg:  renderCfg,
		adRules:    adRules,
		logger:     logger,
		startTime:  time.Now(),
	}
	if !browserCfg.Lazy {
		if err := s.ensureBrowser(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scraper) ensureBrowser() error {
	s.launchOnce.Do(func() {
		s.launchErr = s.launch()
	})
	return s.launchErr
}

func (s *Scraper) launch() error {
	l := launcher.New().
		Headless(s.browserCfg.Headless).
		NoSandbox(s.browserCfg.NoSandbox)

	if s.browserCfg.BrowserBin != "" {
		l = l.Bin(s.browserCfg.BrowserBin)
	}
	if s.browserCfg.DefaultProxy != "" {
		l = l.Proxy(s.browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return models.NewPicketError(models.ErrCodeFetchFailed, "failed to launch browser", err)
	}
	s.logger.Info("browser launched", "control_url", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return models.NewPicketError(models.ErrCodeFetchFailed, "failed to connect to browser", err)
	}

	s.browser = browser
	s.pagePool = rod.NewPagePool(s.browserCfg.MaxPages)
	s.logger.Info("page pool created", "max_pages", s.browserCfg.MaxPages)
	return nil
}

// Stats returns a snapshot of the pool's current state.
func (s *Scraper) Stats() PoolStats {
	return PoolStats{
		Launched:    s.browser != nil,
		MaxPages:    s.browserCfg.MaxPages,
		ActivePages: int(s.activePages.Load()),
	}
}

// Uptime is the time since the Scraper was created.
func (s *Scraper) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Close drains the page pool and kills the browser process.
func (s *Scraper) Close() {
	if s.browser == nil {
		return
	}
	s.logger.Info("scraper shutting down: draining page pool")
	s.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	if err := s.browser.Close(); err != nil {
		s.logger.Warn("close browser", "error", err)
	}
	s.logger.Info("scraper shutdown complete")
}
