package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte("server:\n  port: \"9090\"\nredis:\n  addr: localhost:6379\n  durableTTL: 48h\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Server.Port)
	}
	if len(cfg.Gating.Types) != 2 || cfg.Gating.Types[0] != "mcq" || cfg.Gating.Types[1] != "fill-blank" {
		t.Fatalf("unexpected default gating types %v", cfg.Gating.Types)
	}
	if cfg.Auth.ReturnMarker != "completed" {
		t.Fatalf("expected default return marker, got %q", cfg.Auth.ReturnMarker)
	}
	if cfg.Reconcile.SubmitAttempts != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", cfg.Reconcile.SubmitAttempts)
	}
	if got := TTLDuration(cfg.Redis.DurableTTL, time.Hour); got != 48*time.Hour {
		t.Fatalf("expected 48h durable ttl, got %s", got)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for empty, got %s", got)
	}
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for garbage, got %s", got)
	}
}
