/**
 * @description
 * Configuration loader for the Custodia Backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 * - standard "fmt": For error reporting
 *
 * @notes
 * - Fails fast if critical variables (Database URL) are missing.
 * - Uses a Singleton-like pattern where Load() returns a Config struct.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	Relayer RelayerConfig
	Auth    AuthConfig
	Custody CustodyConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development" or "production"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// RelayerConfig holds the external custody relayer endpoint and credentials.
// The relayer executes custody transfers, per-chain ownership broadcasts and
// matured withdrawal transactions on behalf of the core.
type RelayerConfig struct {
	URL    string
	APIKey string
}

// AuthConfig holds JWT validation settings
type AuthConfig struct {
	ClerkSecretKey string
	ClerkJWKSURL   string // URL to fetch JSON Web Key Set for JWT validation
}

// CustodyConfig holds tunables for the custody core
type CustodyConfig struct {
	SweepInterval     time.Duration // how often the worker sweeps matured withdrawals
	TransferTimeout   time.Duration // how long an account may sit in TRANSFERRING before reconciliation reverts it
	SupportedChainIDs []int64       // chain IDs accounts may be provisioned on
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (k8s/prod might inject env vars directly)
	_ = godotenv.Load()

	chainIDs, err := parseChainIDs(getEnv("SUPPORTED_CHAIN_IDS", "1,10,137,8453,42161"))
	if err != nil {
		return nil, fmt.Errorf("invalid SUPPORTED_CHAIN_IDS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Relayer: RelayerConfig{
			URL:    getEnv("RELAYER_URL", "http://localhost:9090"),
			APIKey: sanitizeCredential(getEnv("RELAYER_API_KEY", "")),
		},
		Auth: AuthConfig{
			ClerkSecretKey: getEnv("CLERK_SECRET_KEY", ""),
			ClerkJWKSURL:   getEnv("CLERK_JWKS_URL", ""),
		},
		Custody: CustodyConfig{
			SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 2*time.Minute),
			TransferTimeout:   getEnvAsDuration("CUSTODY_TRANSFER_TIMEOUT", time.Hour),
			SupportedChainIDs: chainIDs,
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.Custody.SupportedChainIDs) == 0 {
		return fmt.Errorf("SUPPORTED_CHAIN_IDS must name at least one chain")
	}
	if cfg.Auth.ClerkSecretKey == "" && cfg.Server.Env != "test" {
		// Warning: strictly required for Auth middleware
		fmt.Println("Warning: CLERK_SECRET_KEY is missing. Auth middleware will fail.")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as duration (e.g. "2m", "1h")
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

// parseChainIDs parses a comma-separated list of chain IDs
func parseChainIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain id %q is not an integer", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
