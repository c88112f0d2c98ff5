package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadNumericValues(t *testing.T) {
	t.Setenv("BILL_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.BillCacheTTLSeconds != 300 {
		t.Fatalf("expected cache TTL fallback 300, got %d", cfg.BillCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token TTL fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestAddressUsesPort(t *testing.T) {
	t.Setenv("PORT", "9191")

	cfg := Load()
	if cfg.Address() != ":9191" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}
