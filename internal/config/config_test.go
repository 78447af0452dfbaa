package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/custodia_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Custody.SweepInterval != 2*time.Minute {
		t.Errorf("expected default sweep interval 2m, got %s", cfg.Custody.SweepInterval)
	}
	if cfg.Custody.TransferTimeout != time.Hour {
		t.Errorf("expected default transfer timeout 1h, got %s", cfg.Custody.TransferTimeout)
	}
	want := []int64{1, 10, 137, 8453, 42161}
	if !reflect.DeepEqual(cfg.Custody.SupportedChainIDs, want) {
		t.Errorf("expected default chains %v, got %v", want, cfg.Custody.SupportedChainIDs)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when DATABASE_URL is missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/custodia_test")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("SUPPORTED_CHAIN_IDS", "8453, 1")
	t.Setenv("RELAYER_API_KEY", `  "secret-key"  `)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Custody.SweepInterval != 30*time.Second {
		t.Errorf("expected 30s sweep interval, got %s", cfg.Custody.SweepInterval)
	}
	if !reflect.DeepEqual(cfg.Custody.SupportedChainIDs, []int64{8453, 1}) {
		t.Errorf("unexpected chain IDs: %v", cfg.Custody.SupportedChainIDs)
	}
	if cfg.Relayer.APIKey != "secret-key" {
		t.Errorf("expected credential sanitized, got %q", cfg.Relayer.APIKey)
	}
}

func TestParseChainIDsRejectsGarbage(t *testing.T) {
	if _, err := parseChainIDs("1,foo,137"); err == nil {
		t.Fatal("expected an error for a non-integer chain id")
	}
}
