package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("DEFAULT_TAX_RATE_PERCENT", "")
	t.Setenv("LOW_STOCK_THRESHOLD", "")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %s", cfg.Address())
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DefaultTaxRatePercent != 11 {
		t.Fatalf("expected tax rate 11, got %v", cfg.DefaultTaxRatePercent)
	}
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected low stock threshold 10, got %d", cfg.LowStockThreshold)
	}
	if cfg.CatalogCacheTTLSeconds != 30 {
		t.Fatalf("expected catalog cache ttl 30, got %d", cfg.CatalogCacheTTLSeconds)
	}
}

func TestLoadRejectsGarbageNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "banyak")
	t.Setenv("DEFAULT_TAX_RATE_PERCENT", "-5")
	t.Setenv("LOW_STOCK_THRESHOLD", "0")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DefaultTaxRatePercent != 11 {
		t.Fatalf("expected fallback tax rate 11, got %v", cfg.DefaultTaxRatePercent)
	}
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected fallback threshold 10, got %d", cfg.LowStockThreshold)
	}
}
