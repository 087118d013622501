// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.Port)
	}
	if cfg.CallTimeout != 30*time.Second {
		t.Errorf("call timeout = %v", cfg.CallTimeout)
	}
	if cfg.RateLimitPerMinute != 100 {
		t.Errorf("rate limit = %d", cfg.RateLimitPerMinute)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Errorf("breaker threshold = %d", cfg.BreakerFailureThreshold)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://db/app")
	t.Setenv("CALL_TIMEOUT_SECONDS", "5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://db/app" {
		t.Errorf("database url = %s", cfg.DatabaseURL)
	}
	if cfg.CallTimeout != 5*time.Second {
		t.Errorf("call timeout = %v", cfg.CallTimeout)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("rate limit = %d", cfg.RateLimitPerMinute)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
port: "7070"
database_url: postgres://file-db/app
rate_limit_per_minute: 42
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEWAY_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "7070" || cfg.DatabaseURL != "postgres://file-db/app" || cfg.RateLimitPerMinute != 42 {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("port: \"7070\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEWAY_CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "6060" {
		t.Errorf("port = %s, env must win over file", cfg.Port)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CALL_TIMEOUT_SECONDS", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for non-numeric timeout")
	}
}
