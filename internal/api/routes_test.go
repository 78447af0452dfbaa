package api

import (
	"net/http/httptest"
	"testing"

	"github.com/custodia-wallet/backend/internal/config"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// newRouteTestApp mirrors the production Fiber config, StrictRouting included,
// so a registration that only matches the trailing-slash form fails here too.
func newRouteTestApp(t *testing.T) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.SmartAccount{}, &models.Withdrawal{}, &models.ExportRequest{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	// Never dialed: no request in this test reaches the event stream.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})

	cfg := &config.Config{
		Custody: config.CustodyConfig{SupportedChainIDs: []int64{1, 8453}},
	}

	app := fiber.New(fiber.Config{
		StrictRouting: true,
		CaseSensitive: true,
	})
	SetupRoutes(app, db, rdb, cfg)
	return app
}

// Every documented path must resolve without a trailing slash. Auth is left
// uninitialized, so protected routes answer 500 from the middleware; the
// assertion is that no documented path falls through to the 404 handler.
func TestDocumentedRoutesAreRegistered(t *testing.T) {
	app := newRouteTestApp(t)

	cases := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/user/sync"},
		{"GET", "/api/v1/user/me"},
		{"POST", "/api/v1/accounts"},
		{"GET", "/api/v1/accounts"},
		{"POST", "/api/v1/accounts/some-id/transfer"},
		{"POST", "/api/v1/withdrawals"},
		{"GET", "/api/v1/withdrawals"},
		{"GET", "/api/v1/withdrawals/some-id"},
		{"POST", "/api/v1/withdrawals/some-id/cancel"},
		{"GET", "/api/v1/exports/eligibility"},
		{"POST", "/api/v1/exports"},
		{"GET", "/api/v1/exports/some-id"},
		{"POST", "/api/v1/exports/some-id/retry"},
		{"POST", "/api/v1/exports/some-id/cancel"},
		{"GET", "/api/v1/events/stream"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tc.method, tc.path, nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode == fiber.StatusNotFound {
				t.Fatalf("%s %s is not registered", tc.method, tc.path)
			}
		})
	}
}

func TestHealthRoute(t *testing.T) {
	app := newRouteTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}
}
