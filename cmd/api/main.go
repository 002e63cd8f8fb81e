package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ragline/ragline/internal/app"
	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/logging"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New()
	cfg := config.LoadConfig()

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	// SIGINT/SIGTERM trigger a graceful shutdown.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = application.Server.Shutdown(shutdownCtx)
	}()

	if err := application.Start(ctx, cfg.IngestWorkers); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
