package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHOPFLOOR_API_URL", "")
	t.Setenv("SHOPFLOOR_PUBLIC_DEMO", "")
	cfg := Load()
	if cfg.Addr != ":8788" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("AccessTTL = %v", cfg.AccessTTL)
	}
	if cfg.DemoEmail != "demo@mes-system.com" {
		t.Fatalf("DemoEmail = %q", cfg.DemoEmail)
	}
	if cfg.BackendConfigured() {
		t.Fatal("expected backend to be unconfigured without SHOPFLOOR_API_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHOPFLOOR_API_URL", "http://localhost:8788")
	t.Setenv("SHOPFLOOR_PUBLIC_DEMO", "true")
	t.Setenv("SHOPFLOOR_ACCESS_TTL_SECONDS", "not-a-number")
	cfg := Load()
	if !cfg.BackendConfigured() {
		t.Fatal("expected backend to be configured")
	}
	if !cfg.PublicDemo {
		t.Fatal("expected PublicDemo to be true")
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("expected fallback AccessTTL, got %v", cfg.AccessTTL)
	}
}
