package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/picketline/actions"
	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/api"
	"github.com/use-agent/picketline/cache"
	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/engine"
	"github.com/use-agent/picketline/injector"
	"github.com/use-agent/picketline/scraper"
	"github.com/use-agent/picketline/update"
	"github.com/use-agent/picketline/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("picketline starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"block_mode", cfg.Injector.Mode,
		"max_pages", cfg.Browser.MaxPages,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── 3. Labor action repository ──────────────────────────────────
	repo, closeStore, err := newRepository(ctx, cfg.Actions)
	if err != nil {
		slog.Error("failed to initialise action repository", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var sched *actions.Scheduler
	if cfg.Actions.RefreshSchedule != "" {
		sched, err = actions.NewScheduler(repo, cfg.Actions.RefreshSchedule, cfg.Actions.FetchTimeout, nil)
		if err != nil {
			slog.Error("failed to initialise action scheduler", "error", err)
			os.Exit(1)
		}
		sched.Start()
	}

	// ── 4. Ad-network rules ─────────────────────────────────────────
	adRules, err := adnet.NewRegistry(cfg.AdRules.Path, nil)
	if err != nil {
		slog.Error("failed to load ad rules", "path", cfg.AdRules.Path, "error", err)
		os.Exit(1)
	}
	if cfg.AdRules.Watch && cfg.AdRules.Path != "" {
		go func() {
			if err := adRules.Watch(ctx); err != nil {
				slog.Warn("ad rule watcher stopped", "error", err)
			}
		}()
	}

	// ── 5. Page acquisition: scraper + engines ──────────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Render, adRules, nil)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	httpEngine := engine.NewHTTPEngine(cfg.Browser.DefaultProxy, cfg.Render.MaxBodyBytes)
	browserEngine := engine.NewBrowserEngine(sc.Render)
	memory := engine.NewDomainMemory(24 * time.Hour)
	defer memory.Stop()
	dispatcher := engine.NewDispatcher(
		[]engine.Engine{httpEngine, browserEngine},
		[]time.Duration{0, 3 * time.Second},
		memory,
		nil,
	)

	// ── 6. Controller ───────────────────────────────────────────────
	det := detector.New(adRules, detector.Options{
		MinWidth:         cfg.Injector.MinWidth,
		MinHeight:        cfg.Injector.MinHeight,
		TakeoverCoverage: cfg.Injector.TakeoverCoverage,
		OverlayZIndex:    cfg.Injector.OverlayZIndex,
		Debounce:         cfg.Injector.Debounce,
		RescanInterval:   cfg.Injector.RescanInterval,
		MaxRescans:       cfg.Injector.MaxRescans,
	}, nil)

	injOpts := injector.DefaultOptions()
	injOpts.GuardInterval = cfg.Injector.GuardInterval
	injOpts.GuardChecks = cfg.Injector.GuardChecks

	hooks := webhook.NewSender(cfg.Webhook.Secret, nil)
	blockPage := cfg.Server.PublicURL + "/block"
	ctl := controller.New(repo, det, card.NewRenderer(cfg.Actions.APIBase), hooks, controller.Options{
		Mode:        cfg.Injector.Mode,
		InjectAds:   cfg.Injector.InjectAds,
		BlockPage:   blockPage,
		Viewport:    dom.Size{Width: float64(cfg.Render.ViewportWidth), Height: float64(cfg.Render.ViewportHeight)},
		Injector:    injOpts,
		SessionTTL:  cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxSessions,
	}, nil)

	// ── 7. Rewrite cache + release checker ──────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	versions := update.NewChecker(nil, cfg.Update.Owner, cfg.Update.Repo, cfg.Update.Version, cfg.Update.Interval, nil)

	// ── 8. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(ctx, cfg, api.Deps{
		Controller: ctl,
		Actions:    repo,
		Fetcher:    dispatcher,
		Scraper:    sc,
		Cache:      cc,
		AdRules:    adRules,
		Versions:   versions,
		BlockPage:  blockPage,
		StartTime:  time.Now(),
	})

	// ── 9. Start HTTP server ─────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr, "public_url", cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 10. Graceful shutdown ───────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	stop()
	ctl.Close()
	hooks.Wait()
	cc.Close()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}

	// sc.Close() runs via defer: drains the page pool and kills Chrome.
	slog.Info("picketline stopped")
}

// newRepository picks the action source (local file or the API) and the
// snapshot store (redis when configured, memory otherwise).
func newRepository(ctx context.Context, cfg config.ActionsConfig) (*actions.Repository, func(), error) {
	var src actions.Source
	if cfg.File != "" {
		src = actions.NewFileSource(cfg.File)
		slog.Info("labor actions from file", "path", cfg.File)
	} else {
		src = actions.NewHTTPSource(cfg.APIBase, nil, cfg.FetchTimeout)
	}

	closeStore := func() {}
	var store actions.Store
	if cfg.RedisAddr != "" {
		client, err := actions.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store = actions.NewRedisStore(client)
		closeStore = func() {
			if err := client.Close(); err != nil {
				slog.Warn("close redis client", "error", err)
			}
		}
		slog.Info("action snapshots in redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}
	return actions.NewRepository(src, store, cfg.CacheTTL, nil), closeStore, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
