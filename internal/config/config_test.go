package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.JWT.Expiration != 24*time.Hour {
		t.Errorf("Expected default token expiration 24h, got %s", cfg.JWT.Expiration)
	}
	if cfg.Lockout.MaxFailedAttempts != 5 {
		t.Errorf("Expected default lockout threshold 5, got %d", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Lockout.Duration != 30*time.Minute {
		t.Errorf("Expected default lockout duration 30m, got %s", cfg.Lockout.Duration)
	}
	if cfg.Notifier.PollInterval != 30*time.Second {
		t.Errorf("Expected default notifier interval 30s, got %s", cfg.Notifier.PollInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("LOCKOUT_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_DURATION", "5m")
	t.Setenv("NOTIFIER_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("Expected port 9999, got %s", cfg.Server.Port)
	}
	if cfg.Lockout.MaxFailedAttempts != 3 {
		t.Errorf("Expected lockout threshold 3, got %d", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Lockout.Duration != 5*time.Minute {
		t.Errorf("Expected lockout duration 5m, got %s", cfg.Lockout.Duration)
	}
	if cfg.Notifier.Enabled {
		t.Error("Notifier should be disabled")
	}
}

func TestValidateMissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("VAULT_ENABLED", "false")

	if _, err := Load(); err == nil {
		t.Error("Load should fail without JWT secret when Vault is disabled")
	}
}

func TestValidateVaultCoversMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("VAULT_ENABLED", "true")

	if _, err := Load(); err != nil {
		t.Errorf("Vault as key source should satisfy validation: %v", err)
	}
}

func TestValidateLockoutThreshold(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOCKOUT_MAX_FAILED_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Error("Load should reject a lockout threshold below 1")
	}
}
