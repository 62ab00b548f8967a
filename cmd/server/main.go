// Helanet - Subscription billing and network access sync for ISPs
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/helanet/helanet/internal/config"
	"github.com/helanet/helanet/internal/logging"
	"github.com/helanet/helanet/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "helanet:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)
	logger.Info("starting helanet",
		"version", Version,
		"commit", Commit,
		"buildTime", BuildTime,
		"env", cfg.Env,
		"accessServer", cfg.AccessServerURL,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	return srv.Run(context.Background())
}
