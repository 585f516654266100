package config_test

import (
	"testing"
	"time"

	"github.com/iho/goledger-velocity/internal/infrastructure/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL == "" {
		t.Fatalf("expected default database URL to be set")
	}

	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}

	if cfg.VelocityLockTimeout != 5*time.Second {
		t.Fatalf("expected default lock timeout 5s, got %s", cfg.VelocityLockTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.HTTPRateLimit != 0 {
		t.Fatalf("expected rate limiting to be disabled by default, got %v", cfg.HTTPRateLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_TIMEOUT", "45s")
	t.Setenv("VELOCITY_LOCK_TIMEOUT", "750ms")
	t.Setenv("TRANSACTION_TIMEOUT", "3s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("MIGRATIONS_PATH", "/srv/migrations")
	t.Setenv("HTTP_RATE_LIMIT", "12.5")
	t.Setenv("HTTP_RATE_BURST", "40")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected custom database URL, got %s", cfg.DatabaseURL)
	}

	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}

	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected HTTP port override, got %s", cfg.HTTPPort)
	}

	if cfg.DatabaseTimeout != 45*time.Second {
		t.Fatalf("expected database timeout override, got %s", cfg.DatabaseTimeout)
	}

	if cfg.VelocityLockTimeout != 750*time.Millisecond || cfg.TransactionTimeout != 3*time.Second {
		t.Fatalf("expected velocity timeouts to be set, got lock=%s tx=%s", cfg.VelocityLockTimeout, cfg.TransactionTimeout)
	}

	if cfg.RetryMaxAttempts != 5 || cfg.MigrationsPath != "/srv/migrations" {
		t.Fatalf("expected retry and migrations overrides, got retries=%d path=%s", cfg.RetryMaxAttempts, cfg.MigrationsPath)
	}

	if cfg.HTTPRateLimit != 12.5 || cfg.HTTPRateBurst != 40 {
		t.Fatalf("expected rate limit overrides, got rate=%v burst=%d", cfg.HTTPRateLimit, cfg.HTTPRateBurst)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("VELOCITY_LOCK_TIMEOUT", "not-a-duration")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
