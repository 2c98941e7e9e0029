// Package main is the entry point for Dynamo, a reserve rebalancer that keeps a vault's
// reserve at its target and spreads the remaining capital across pools by weight.
//
// Startup order:
//  1. Load configuration (.env and environment)
//  2. Build the logger
//  3. Wire databases, repositories, services and jobs
//  4. Start the scheduler and the HTTP server
//  5. Wait for SIGINT/SIGTERM and shut down gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/dynamo/internal/config"
	"github.com/aristath/dynamo/internal/di"
	"github.com/aristath/dynamo/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("reserve", cfg.Vault.ReserveHolder).
		Str("target_reserve", cfg.Vault.TargetReserve.String()).
		Msg("Starting Dynamo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// closed last so WAL checkpoints land after the scheduler and server stop
	defer container.Close()

	srv := di.NewServer(container, cfg, log)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	container.Scheduler.Start()

	log.Info().
		Int("port", cfg.Port).
		Bool("r2_backup", jobs.Backup != nil).
		Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	// waits for a running rebalance to finish before the ledger closes
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
