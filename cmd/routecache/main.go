// Package main is the entry point for the routing and cache server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routecache/config"
	"routecache/internal/app"
	"routecache/internal/logging"
	"routecache/internal/version"

	// Import provider packages to trigger their init() registration
	_ "routecache/internal/providers/anthropic"
	_ "routecache/internal/providers/bedrock"
	_ "routecache/internal/providers/ollama"
	_ "routecache/internal/providers/openai"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting routecache",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	// Reject bad configuration outright, reporting every field at once.
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, fe := range errs {
			slog.Error("invalid configuration", "field", fe.Field, "error", fe.Message)
		}
		os.Exit(1)
	}

	application, err := app.New(context.Background(), cfg, app.Options{})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	if err := application.Start(addr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
