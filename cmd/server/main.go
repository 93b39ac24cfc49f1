package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/szczecha/saleor/internal/app"
	"github.com/szczecha/saleor/internal/config"
	"github.com/szczecha/saleor/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "promotion-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("promotion-engine", cfg.LogLevel)
	log.Info("starting",
		slog.String("version", app.Version),
		slog.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	return application.Run(ctx)
}
