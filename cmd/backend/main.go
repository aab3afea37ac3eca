package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	configloader "github.com/foxseedlab/livescribe/external/config"
	metricsimpl "github.com/foxseedlab/livescribe/external/metrics"
	repositoryimpl "github.com/foxseedlab/livescribe/external/repository"
	"github.com/foxseedlab/livescribe/external/server"
	transcriberimpl "github.com/foxseedlab/livescribe/external/transcriber"
	webhookimpl "github.com/foxseedlab/livescribe/external/webhook"
	"github.com/foxseedlab/livescribe/external/websocket"
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/session"
	"github.com/samber/do/v2"
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "provider", cfg.TranscribeProvider)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: starting transcription server")
	run(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, slog.Default())
	metricsimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	websocket.RegisterDI(injector)
	server.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config, injector do.Injector) {
	srv, err := do.Invoke[*server.Server](injector)
	if err != nil {
		slog.Error("failed to build http server", "error", err)
		os.Exit(1)
	}
	gateway := do.MustInvoke[*session.Gateway](injector)

	done := make(chan error, 1)
	go func() {
		done <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-done:
		if err != nil {
			slog.Error("http server stopped", "error", err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Sessions run on hijacked connections, which http.Server.Shutdown does
	// not track, so the gateway is drained first.
	if err := gateway.Shutdown(ctx); err != nil {
		slog.Error("session gateway shutdown incomplete", "error", err, "active_sessions", gateway.ActiveSessions())
		exitCode = 1
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
		exitCode = 1
	}
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		slog.Error("dependency shutdown failed", "error", report.Error())
		exitCode = 1
	}
	slog.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
