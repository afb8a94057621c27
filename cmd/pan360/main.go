package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pan360/internal/cli"
	"pan360/internal/config"
	"pan360/internal/logging"
	"pan360/internal/pipeline"
	"pan360/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	store, err := storage.New(cfg.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, cfg, logger, store)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, logger, store, pipe)
	return rootCmd.ExecuteContext(ctx)
}
