package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SecretsBackend != SecretsBackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.SecretsBackend)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("expected 12h token ttl, got %s", cfg.TokenTTL)
	}
	if cfg.SecretsMaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.SecretsMaxAttempts)
	}
	if !cfg.NeedsRedis() {
		t.Fatalf("expected redis to be required by default")
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != defaultFrontendURL {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CookieName != "access_token" || cfg.CookieSecure {
		t.Fatalf("unexpected cookie settings %q secure=%v", cfg.CookieName, cfg.CookieSecure)
	}
}

func TestLoadReadsCookieSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("auth.cookie_name", " th_session ")
	configViper.Set("auth.cookie_secure", true)

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CookieName != "th_session" || !cfg.CookieSecure {
		t.Fatalf("unexpected cookie settings %q secure=%v", cfg.CookieName, cfg.CookieSecure)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	_, err := Load(NewViper())
	if err == nil || !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("secrets.backend", "disk")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected backend validation error")
	}
}

func TestLoadMemoryBackendWithoutRedis(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("secrets.backend", "Memory")
	configViper.Set("redis.address", "")
	configViper.Set("cors.allowed_origins", "https://a.example, https://b.example")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NeedsRedis() {
		t.Fatalf("memory backend without relay should not need redis")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}

	configViper.Set("realtime.relay", true)
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected relay without redis address to fail")
	}
}
