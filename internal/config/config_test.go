package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.BindAddress != ":5001" {
		t.Errorf("expected bind address :5001, got %s", cfg.Server.BindAddress)
	}
	if cfg.Store.Mode != ModeMemory {
		t.Errorf("expected default store mode MEM, got %s", cfg.Store.Mode)
	}
	if cfg.Server.Threads != 1 {
		t.Errorf("expected default threads 1, got %d", cfg.Server.Threads)
	}
	if cfg.Auth.TokenTTLMinutes != 15 {
		t.Errorf("expected token TTL 15, got %d", cfg.Auth.TokenTTLMinutes)
	}
	if !cfg.CORS.Strict {
		t.Error("expected strict CORS by default")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MEM_OR_EXTERNAL", "external")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("THREADS", "4")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOGIN_IP_RATE_LIMIT", "25")
	t.Setenv("CORS_STRICT", "false")
	t.Setenv("HTTPS_ONLY", "true")

	cfg := FromEnv()

	if cfg.Server.BindAddress != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Server.BindAddress)
	}
	if cfg.Store.Mode != ModeExternal {
		t.Errorf("expected mode normalized to EXTERNAL, got %s", cfg.Store.Mode)
	}
	if cfg.Server.Threads != 4 {
		t.Errorf("expected threads 4, got %d", cfg.Server.Threads)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.RateLimit.LoginLimit != 25 {
		t.Errorf("expected login limit 25, got %d", cfg.RateLimit.LoginLimit)
	}
	if cfg.CORS.Strict {
		t.Error("expected strict CORS disabled")
	}
	if !cfg.Server.HTTPSPosture() {
		t.Error("expected HTTPS posture with HTTPS_ONLY=true")
	}
}

func TestValidateMemoryModeRejectsMultipleThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Mode = ModeMemory
	cfg.Server.Threads = 4

	err := cfg.Validate()
	if !errors.Is(err, ErrMemoryModeThreads) {
		t.Fatalf("expected ErrMemoryModeThreads, got %v", err)
	}
}

func TestValidateExternalModeRequiresRedisURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Mode = ModeExternal
	cfg.Store.RedisURL = ""

	err := cfg.Validate()
	if !errors.Is(err, ErrExternalStoreURL) {
		t.Fatalf("expected ErrExternalStoreURL, got %v", err)
	}

	cfg.Store.RedisURL = "redis://localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateExternalModeAllowsMultipleThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Mode = ModeExternal
	cfg.Store.RedisURL = "redis://localhost:6379"
	cfg.Server.Threads = 8

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateJWTSecretRequiredOutsideDevelopment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Env = "production"

	err := cfg.Validate()
	if !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}

	cfg.Auth.JWTSecretKey = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsUnknownStoreMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Mode = "MONGO"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store mode")
	}
}

func TestLoaderOverlayExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DOORMAN_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "doorman.yaml")
	overlay := `
server:
  bind_address: ":9000"
auth:
  jwt_secret_key: ${TEST_DOORMAN_SECRET}
`
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.BindAddress != ":9000" {
		t.Errorf("expected overlay bind address, got %s", cfg.Server.BindAddress)
	}
	if cfg.Auth.JWTSecretKey != "from-env" {
		t.Errorf("expected expanded secret, got %q", cfg.Auth.JWTSecretKey)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := NewLoader("/nonexistent/doorman.yaml").Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoaderEmptyPathUsesEnvironmentOnly(t *testing.T) {
	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Mode != ModeMemory {
		t.Errorf("expected MEM default, got %s", cfg.Store.Mode)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecretKey = "topsecret"
	cfg.Auth.AdminPassword = "hunter2hunter2"
	cfg.Store.EncryptionKey = "0123456789abcdef"
	cfg.Metrics.PrometheusBearerToken = "scrape-me"

	red := cfg.Redacted()

	if red.Auth.JWTSecretKey != "[REDACTED]" {
		t.Errorf("jwt secret not redacted: %q", red.Auth.JWTSecretKey)
	}
	if red.Auth.AdminPassword != "[REDACTED]" {
		t.Errorf("admin password not redacted: %q", red.Auth.AdminPassword)
	}
	if red.Store.EncryptionKey != "[REDACTED]" {
		t.Errorf("encryption key not redacted: %q", red.Store.EncryptionKey)
	}
	if red.Metrics.PrometheusBearerToken != "[REDACTED]" {
		t.Errorf("bearer token not redacted: %q", red.Metrics.PrometheusBearerToken)
	}
	// Original untouched.
	if cfg.Auth.JWTSecretKey != "topsecret" {
		t.Error("redaction mutated the original config")
	}
	// Unset secrets stay empty rather than being replaced.
	if red.Store.RedisURL != "" {
		t.Errorf("expected empty redis url, got %q", red.Store.RedisURL)
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doorman.yaml")
	if err := os.WriteFile(path, []byte("server:\n  bind_address: \":7001\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("watcher create failed: %v", err)
	}
	defer w.Stop()

	if got := w.GetConfig().Server.BindAddress; got != ":7001" {
		t.Fatalf("expected initial :7001, got %s", got)
	}

	w.SetDebounce(10 * time.Millisecond)
	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("watcher start failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("server:\n  bind_address: \":7002\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Server.BindAddress != ":7002" {
			t.Errorf("expected reloaded :7002, got %s", cfg.Server.BindAddress)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
