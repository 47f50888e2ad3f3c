package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/picketline/actions"
	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/card"
	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/proxy"
)

func main() {
	cfg := config.Load()
	initLogger(cfg.Log)
	slog.Info("picketline proxy starting",
		"addr", cfg.Proxy.Addr,
		"block_mode", cfg.Injector.Mode,
		"block_ads", cfg.Proxy.BlockAds,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── Labor actions ───────────────────────────────────────────────
	var src actions.Source
	if cfg.Actions.File != "" {
		src = actions.NewFileSource(cfg.Actions.File)
	} else {
		src = actions.NewHTTPSource(cfg.Actions.APIBase, nil, cfg.Actions.FetchTimeout)
	}
	repo := actions.NewRepository(src, nil, cfg.Actions.CacheTTL, nil)
	if cfg.Actions.RefreshSchedule != "" {
		sched, err := actions.NewScheduler(repo, cfg.Actions.RefreshSchedule, cfg.Actions.FetchTimeout, nil)
		if err != nil {
			slog.Error("failed to initialise action scheduler", "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop(context.Background())
	}

	// ── Ad rules ────────────────────────────────────────────────────
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

	// ── Controller ──────────────────────────────────────────────────
	det := detector.New(adRules, detector.Options{
		MinWidth:         cfg.Injector.MinWidth,
		MinHeight:        cfg.Injector.MinHeight,
		TakeoverCoverage: cfg.Injector.TakeoverCoverage,
		OverlayZIndex:    cfg.Injector.OverlayZIndex,
	}, nil)
	ctl := controller.New(repo, det, card.NewRenderer(cfg.Actions.APIBase), nil, controller.Options{
		Mode:      cfg.Injector.Mode,
		InjectAds: cfg.Injector.InjectAds,
		BlockPage: cfg.Server.PublicURL + "/block",
		Viewport:  dom.Size{Width: float64(cfg.Render.ViewportWidth), Height: float64(cfg.Render.ViewportHeight)},
	}, nil)
	defer ctl.Close()

	// ── Proxy ───────────────────────────────────────────────────────
	opts := proxy.Options{
		BlockAds:  cfg.Proxy.BlockAds,
		BypassTTL: cfg.Proxy.BypassTTL,
		MaxBody:   cfg.Render.MaxBodyBytes,
	}
	if cfg.Proxy.CACertFile != "" && cfg.Proxy.CAKeyFile != "" {
		if opts.CACert, err = os.ReadFile(cfg.Proxy.CACertFile); err != nil {
			slog.Error("failed to read proxy CA certificate", "path", cfg.Proxy.CACertFile, "error", err)
			os.Exit(1)
		}
		if opts.CAKey, err = os.ReadFile(cfg.Proxy.CAKeyFile); err != nil {
			slog.Error("failed to read proxy CA key", "path", cfg.Proxy.CAKeyFile, "error", err)
			os.Exit(1)
		}
	}
	px, err := proxy.New(ctl, adRules, opts, nil)
	if err != nil {
		slog.Error("failed to initialise proxy", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Proxy.Addr,
		Handler:           px,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("proxy listening", "addr", cfg.Proxy.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("proxy server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("proxy forced shutdown", "error", err)
	}
	slog.Info("picketline proxy stopped")
}

func initLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
