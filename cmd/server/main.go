// Command server runs the status API configured entirely from MIGRATOR_*
// environment variables, for deployments without a CLI wrapper.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dbmigrator/internal/config"
	"dbmigrator/internal/logging"
	"dbmigrator/internal/server"
	"dbmigrator/internal/sqlfile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sources []*config.Source
	if path := os.Getenv("MIGRATOR_CONFIG"); path != "" {
		sources = append(sources, config.NewJSONFileSource(path))
	}
	sources = append(sources, config.NewEnvVarSource())

	cfg, err := config.Load(sources...)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg, os.Stderr)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	catalog, err := sqlfile.NewRegistry(cfg.Migrations, logger)
	if err != nil {
		logger.Error("loading migrations failed", "error", err)
		os.Exit(1)
	}

	if err := server.Run(ctx, cfg, logger, catalog); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
