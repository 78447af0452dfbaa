/**
 * @description
 * Worker Service Entry Point.
 * Responsible for background tasks:
 * 1. Sweeping matured delayed withdrawals into execution.
 * 2. Reverting accounts stuck mid custody-transfer (saga reconciliation).
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/relayer
 * - backend/internal/services
 *
 * @notes
 * - Safe to run multiple replicas: every claim is a conditional update, so
 *   two workers never execute the same withdrawal.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-wallet/backend/internal/chains"
	"github.com/custodia-wallet/backend/internal/clock"
	"github.com/custodia-wallet/backend/internal/config"
	"github.com/custodia-wallet/backend/internal/db"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/relayer"
	"github.com/custodia-wallet/backend/internal/services"
)

func main() {
	logger.Info("🔥 Starting Custodia Worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// 2. Connect DBs
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}

	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("Redis connection failed: %v", err)
	}

	// 3. Initialize Services
	registry := chains.NewRegistry(cfg.Custody.SupportedChainIDs)
	relayerClient := relayer.NewClient(cfg)
	events := services.NewEventPublisher(redisClient)
	clk := clock.System{}

	accountService := services.NewAccountService(pgDB, registry, relayerClient, clk, events)
	withdrawalService := services.NewWithdrawalService(pgDB, clk, events)
	sweeper := services.NewSweeper(pgDB, withdrawalService, accountService, relayerClient, clk)

	// 4. Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Sweep Loop
	go func() {
		ticker := time.NewTicker(cfg.Custody.SweepInterval)
		defer ticker.Stop()

		// Initial sweep on boot so a restart doesn't delay matured withdrawals
		runCycle(ctx, sweeper, accountService, cfg.Custody.TransferTimeout)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCycle(ctx, sweeper, accountService, cfg.Custody.TransferTimeout)
			}
		}
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	time.Sleep(1 * time.Second) // Give in-flight executions time to finalize
	logger.Info("Worker exited.")
}

// runCycle performs one sweep + reconciliation pass
func runCycle(ctx context.Context, sweeper *services.Sweeper, accounts *services.AccountService, transferTimeout time.Duration) {
	if _, err := sweeper.SweepOnce(ctx); err != nil {
		logger.Error("Sweep cycle failed: %v", err)
	}
	if _, err := accounts.ReleaseStuckTransfers(ctx, transferTimeout); err != nil {
		logger.Error("Stuck-transfer reconciliation failed: %v", err)
	}
}
