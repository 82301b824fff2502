// Command consentd is the ContextMD consent-verification server. It hosts
// live alignment sessions over a websocket endpoint and exposes health and
// metrics endpoints for operations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/natalietdg/context-md-sub001/internal/app"
	"github.com/natalietdg/context-md-sub001/internal/config"
	"github.com/natalietdg/context-md-sub001/internal/consent/script"
	"github.com/natalietdg/context-md-sub001/internal/health"
	"github.com/natalietdg/context-md-sub001/internal/observe"
	"github.com/natalietdg/context-md-sub001/internal/service"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "consentd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "consentd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	slog.Info("consentd starting",
		"config", *configPath,
		"listen_addr", addr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "consentd"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Config watcher ────────────────────────────────────────────────────────
	// Log level changes apply live; verify tuning and script changes only
	// affect sessions started after the reload is acted on, so they are
	// surfaced in the logs for the operator.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.VerifyChanged {
			slog.Warn("verify tuning changed on disk; restart to apply to new sessions")
		}
		for _, sd := range d.ScriptChanges {
			slog.Warn("consent script override changed on disk",
				"language", sd.Language,
				"added", sd.Added,
				"removed", sd.Removed,
				"modified", sd.Modified,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	registry := app.NewRegistry()

	checks := health.New(health.Checker{
		Name: "scripts",
		Check: func(context.Context) error {
			if _, ok := cfg.ScriptSentences(defaultLanguage(cfg)); !ok {
				return fmt.Errorf("no consent script for default language %q", defaultLanguage(cfg))
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/verify", observe.Middleware(metrics)(service.NewHandler(cfg, registry, metrics)))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		registry.StopAll()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownOtel(flushCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, addr string) {
	languages := map[string]bool{}
	for _, lang := range script.Languages() {
		languages[lang] = true
	}
	for lang := range cfg.Scripts {
		languages[lang] = true
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        consentd — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Mode            : %-19s║\n", string(cfg.Verify.Mode))
	fmt.Printf("║  Default language: %-19s║\n", defaultLanguage(cfg))
	fmt.Printf("║  Script languages: %-19d║\n", len(languages))
	fmt.Printf("║  Script overrides: %-19d║\n", len(cfg.Scripts))
	fmt.Printf("║  Listen addr     : %-19s║\n", addr)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s║\n", "enabled")
	} else {
		fmt.Printf("║  TLS             : %-19s║\n", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func defaultLanguage(cfg *config.Config) string {
	if cfg.Verify.DefaultLanguage != "" {
		return cfg.Verify.DefaultLanguage
	}
	return "en"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
