/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 * - backend/internal/relayer
 */

package api

import (
	"github.com/custodia-wallet/backend/internal/api/handlers"
	"github.com/custodia-wallet/backend/internal/api/middleware"
	"github.com/custodia-wallet/backend/internal/chains"
	"github.com/custodia-wallet/backend/internal/clock"
	"github.com/custodia-wallet/backend/internal/config"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/relayer"
	"github.com/custodia-wallet/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config) {
	// 1. Initialize Middleware
	if err := middleware.InitAuthMiddleware(cfg); err != nil {
		logger.Error("Failed to init auth middleware: %v", err)
		// We don't panic here to allow app to start in dev modes without valid keys,
		// but protected routes will fail.
	}

	// 2. Initialize Services
	registry := chains.NewRegistry(cfg.Custody.SupportedChainIDs)
	relayerClient := relayer.NewClient(cfg)
	events := services.NewEventPublisher(rdb)
	clk := clock.System{}

	accountService := services.NewAccountService(db, registry, relayerClient, clk, events)
	withdrawalService := services.NewWithdrawalService(db, clk, events)
	exportService := services.NewExportService(db, registry, relayerClient, events)

	// 3. Initialize Handlers
	userHandler := handlers.NewUserHandler(db)
	accountHandler := handlers.NewAccountHandler(db, accountService)
	withdrawalHandler := handlers.NewWithdrawalHandler(db, withdrawalService)
	exportHandler := handlers.NewExportHandler(db, exportService)
	eventsHandler := handlers.NewEventsHandler(rdb)

	// 4. Define Routes
	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// User Routes (Protected)
	user := v1.Group("/user", middleware.Protected())
	user.Post("/sync", userHandler.SyncUser)
	user.Get("/me", userHandler.GetMe)

	// Smart Account Routes (Protected)
	// Collection endpoints register with an empty path: the app runs with
	// StrictRouting, so Post("/") would only match the trailing-slash form.
	accounts := v1.Group("/accounts", middleware.Protected())
	accounts.Post("", accountHandler.Provision)
	accounts.Get("", accountHandler.List)
	accounts.Post("/:id/transfer", accountHandler.TransferCustody)

	// Withdrawal Routes (Protected)
	withdrawals := v1.Group("/withdrawals", middleware.Protected())
	withdrawals.Post("", withdrawalHandler.Create)
	withdrawals.Get("", withdrawalHandler.List)
	withdrawals.Get("/:id", withdrawalHandler.Get)
	withdrawals.Post("/:id/cancel", withdrawalHandler.Cancel)

	// Export Routes (Protected)
	exports := v1.Group("/exports", middleware.Protected())
	exports.Get("/eligibility", exportHandler.Eligibility)
	exports.Post("", exportHandler.Create)
	exports.Get("/:id", exportHandler.Get)
	exports.Post("/:id/retry", exportHandler.Retry)
	exports.Post("/:id/cancel", exportHandler.Cancel)

	// Event Stream (Protected)
	eventsGroup := v1.Group("/events", middleware.Protected())
	eventsGroup.Get("/stream", eventsHandler.Stream)
}
