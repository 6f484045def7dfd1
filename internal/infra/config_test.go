package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("BATCH_DEADLINE_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port mismatch: got %q want %q", cfg.Port, "8080")
	}
	if cfg.MaxConcurrentGenerations != 4 {
		t.Fatalf("MaxConcurrentGenerations mismatch: got %d want 4", cfg.MaxConcurrentGenerations)
	}
	if cfg.BatchDeadline != 5*time.Minute {
		t.Fatalf("BatchDeadline mismatch: got %s want 5m", cfg.BatchDeadline)
	}
	if cfg.ItemsPerBatch != 15 || cfg.RefinementItems != 5 {
		t.Fatalf("batch sizing mismatch: items=%d refinement=%d", cfg.ItemsPerBatch, cfg.RefinementItems)
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("MAX_CONCURRENT_GENERATIONS", "3")
	t.Setenv("BATCH_DEADLINE_SECONDS", "30")
	t.Setenv("SIGNUP_CREDIT_GRANT", "50")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("DatabaseURL mismatch: got %q", cfg.DatabaseURL)
	}
	if cfg.MaxConcurrentGenerations != 3 {
		t.Fatalf("MaxConcurrentGenerations mismatch: got %d want 3", cfg.MaxConcurrentGenerations)
	}
	if cfg.BatchDeadline != 30*time.Second {
		t.Fatalf("BatchDeadline mismatch: got %s want 30s", cfg.BatchDeadline)
	}
	if cfg.SignupGrant != 50 {
		t.Fatalf("SignupGrant mismatch: got %d want 50", cfg.SignupGrant)
	}
}

func TestLoadConfigIgnoresMalformedInt(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RENDER_MAX_ATTEMPTS", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RenderMaxAttempts != 2 {
		t.Fatalf("RenderMaxAttempts mismatch: got %d want 2", cfg.RenderMaxAttempts)
	}
}
