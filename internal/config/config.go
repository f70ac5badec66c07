package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Store backend modes.
const (
	ModeMemory   = "MEM"
	ModeExternal = "EXTERNAL"
)

// Startup validation errors.
var (
	ErrMemoryModeThreads = errors.New("MEM_OR_EXTERNAL=MEM requires THREADS=1: in-process state cannot be shared across workers")
	ErrExternalStoreURL  = errors.New("MEM_OR_EXTERNAL=EXTERNAL requires REDIS_URL to be configured")
	ErrMissingJWTSecret  = errors.New("JWT_SECRET_KEY is required outside development")
)

// Config is the full gateway configuration. Values come from environment
// variables first; an optional YAML overlay may refine them.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Chaos     ChaosConfig     `yaml:"chaos"`
}

// ServerConfig holds the HTTP server and process posture settings.
type ServerConfig struct {
	BindAddress            string `yaml:"bind_address"`
	BaseURL                string `yaml:"base_url"`
	Env                    string `yaml:"env"`
	HTTPSOnly              bool   `yaml:"https_only"`
	HTTPSEnabled           bool   `yaml:"https_enabled"`
	CookieDomain           string `yaml:"cookie_domain"`
	Threads                int    `yaml:"threads"`
	ShutdownGraceSeconds   int    `yaml:"shutdown_grace_seconds"`
	UpstreamTimeoutSeconds int    `yaml:"upstream_timeout_seconds"`
}

// HTTPSPosture reports whether the process serves behind HTTPS. Secure
// cookies and the CSRF double-submit check key off this.
func (s ServerConfig) HTTPSPosture() bool {
	return s.HTTPSOnly || s.HTTPSEnabled
}

// StoreConfig selects and tunes the config store backend.
type StoreConfig struct {
	Mode                    string `yaml:"mode"`
	RedisURL                string `yaml:"redis_url" redact:"true"`
	EncryptionKey           string `yaml:"encryption_key" redact:"true"`
	DumpPath                string `yaml:"dump_path"`
	AutoSave                bool   `yaml:"auto_save"`
	AutoSaveFrequencySecs   int    `yaml:"auto_save_frequency_seconds"`
	CacheTTLSeconds         int    `yaml:"cache_ttl_seconds"`
	CacheSize               int    `yaml:"cache_size"`
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
}

// AuthConfig holds token issuance settings and bootstrap admin credentials.
type AuthConfig struct {
	JWTSecretKey       string `yaml:"jwt_secret_key" redact:"true"`
	TokenEncryptionKey string `yaml:"token_encryption_key" redact:"true"`
	AdminEmail         string `yaml:"admin_email"`
	AdminPassword      string `yaml:"admin_password" redact:"true"`
	TokenTTLMinutes    int    `yaml:"token_ttl_minutes"`
}

// CORSConfig is the global CORS policy; per-API policies take precedence.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	Strict           bool     `yaml:"strict"`
}

// RateLimitConfig tunes the per-IP login throttle.
type RateLimitConfig struct {
	LoginLimit         int  `yaml:"login_limit"`
	LoginWindowSeconds int  `yaml:"login_window_seconds"`
	LoginDisabled      bool `yaml:"login_disabled"`
}

// LimitsConfig caps request shapes.
type LimitsConfig struct {
	MaxPageSize           int   `yaml:"max_page_size"`
	MaxMultipartSizeBytes int64 `yaml:"max_multipart_size_bytes"`
	MaxBodySizeBytes      int64 `yaml:"max_body_size_bytes"`
	CompressionMinSize    int   `yaml:"compression_min_size"`
}

// LoggingConfig tunes the zap logger and the in-memory ring buffer.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	FilePath    string `yaml:"file_path"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	BufferLines int    `yaml:"buffer_lines"`
}

// MetricsConfig guards the Prometheus scrape endpoint.
type MetricsConfig struct {
	PrometheusPublic      bool     `yaml:"prometheus_public"`
	PrometheusBearerToken string   `yaml:"prometheus_bearer_token" redact:"true"`
	PrometheusAllowlist   []string `yaml:"prometheus_allowlist"`
	PrometheusTrustXFF    bool     `yaml:"prometheus_trust_xff"`
}

// TracingConfig enables the optional OTLP exporter.
type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ChaosConfig holds startup chaos toggles.
type ChaosConfig struct {
	EnableLatencyInjection bool `yaml:"enable_latency_injection"`
	LatencyInjectionMs     int  `yaml:"latency_injection_ms"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:            ":5001",
			Env:                    "development",
			Threads:                1,
			ShutdownGraceSeconds:   30,
			UpstreamTimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Mode:                    ModeMemory,
			DumpPath:                "generated/memory_dump.bin",
			AutoSaveFrequencySecs:   300,
			CacheTTLSeconds:         300,
			CacheSize:               10000,
			BreakerFailureThreshold: 5,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 15,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-API-Version", "X-Request-ID"},
			Strict:         true,
		},
		RateLimit: RateLimitConfig{
			LoginLimit:         10,
			LoginWindowSeconds: 60,
		},
		Limits: LimitsConfig{
			MaxPageSize:           100,
			MaxMultipartSizeBytes: 5 << 20,
			MaxBodySizeBytes:      10 << 20,
			CompressionMinSize:    1024,
		},
		Logging: LoggingConfig{
			Level:       "info",
			MaxSizeMB:   100,
			MaxBackups:  5,
			MaxAgeDays:  14,
			BufferLines: 1000,
		},
		Tracing: TracingConfig{
			ServiceName: "doorman",
			SampleRate:  1.0,
		},
	}
}

// FromEnv builds a Config from defaults overlaid with environment variables.
func FromEnv() *Config {
	cfg := DefaultConfig()

	setStr(&cfg.Server.BaseURL, "DOORMAN_BASE_URL")
	setStr(&cfg.Server.BindAddress, "BIND_ADDRESS")
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.BindAddress = ":" + port
	}
	setStr(&cfg.Server.Env, "ENV")
	setBool(&cfg.Server.HTTPSOnly, "HTTPS_ONLY")
	setBool(&cfg.Server.HTTPSEnabled, "HTTPS_ENABLED")
	setStr(&cfg.Server.CookieDomain, "COOKIE_DOMAIN")
	setInt(&cfg.Server.Threads, "THREADS")
	setInt(&cfg.Server.ShutdownGraceSeconds, "SHUTDOWN_GRACE_SECONDS")
	setInt(&cfg.Server.UpstreamTimeoutSeconds, "UPSTREAM_TIMEOUT_SECONDS")

	setStr(&cfg.Store.Mode, "MEM_OR_EXTERNAL")
	cfg.Store.Mode = strings.ToUpper(cfg.Store.Mode)
	setStr(&cfg.Store.RedisURL, "REDIS_URL")
	setStr(&cfg.Store.EncryptionKey, "MEM_ENCRYPTION_KEY")
	setStr(&cfg.Store.DumpPath, "MEM_DUMP_PATH")

	setStr(&cfg.Auth.JWTSecretKey, "JWT_SECRET_KEY")
	setStr(&cfg.Auth.TokenEncryptionKey, "TOKEN_ENCRYPTION_KEY")
	setStr(&cfg.Auth.AdminEmail, "DOORMAN_ADMIN_EMAIL")
	setStr(&cfg.Auth.AdminPassword, "DOORMAN_ADMIN_PASSWORD")
	setInt(&cfg.Auth.TokenTTLMinutes, "AUTH_TOKEN_TTL_MINUTES")

	setCSV(&cfg.CORS.AllowedOrigins, "ALLOWED_ORIGINS")
	setCSV(&cfg.CORS.AllowMethods, "ALLOW_METHODS")
	setCSV(&cfg.CORS.AllowHeaders, "ALLOW_HEADERS")
	setBool(&cfg.CORS.AllowCredentials, "ALLOW_CREDENTIALS")
	setBool(&cfg.CORS.Strict, "CORS_STRICT")

	setInt(&cfg.RateLimit.LoginLimit, "LOGIN_IP_RATE_LIMIT")
	setInt(&cfg.RateLimit.LoginWindowSeconds, "LOGIN_IP_RATE_WINDOW")
	setBool(&cfg.RateLimit.LoginDisabled, "LOGIN_IP_RATE_DISABLED")

	setInt(&cfg.Limits.MaxPageSize, "MAX_PAGE_SIZE")
	setInt64(&cfg.Limits.MaxMultipartSizeBytes, "MAX_MULTIPART_SIZE_BYTES")
	setInt64(&cfg.Limits.MaxBodySizeBytes, "MAX_BODY_SIZE_BYTES")

	setStr(&cfg.Logging.Level, "LOG_LEVEL")
	setStr(&cfg.Logging.FilePath, "LOG_FILE")
	setInt(&cfg.Logging.MaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAgeDays, "LOG_MAX_AGE_DAYS")

	setBool(&cfg.Metrics.PrometheusPublic, "PROMETHEUS_PUBLIC")
	setStr(&cfg.Metrics.PrometheusBearerToken, "PROMETHEUS_BEARER_TOKEN")
	setCSV(&cfg.Metrics.PrometheusAllowlist, "PROMETHEUS_ALLOWLIST")
	setBool(&cfg.Metrics.PrometheusTrustXFF, "PROMETHEUS_TRUST_XFF")

	setStr(&cfg.Tracing.OTLPEndpoint, "TRACING_OTLP_ENDPOINT")
	setBool(&cfg.Tracing.Insecure, "TRACING_INSECURE")

	setBool(&cfg.Chaos.EnableLatencyInjection, "ENABLE_LATENCY_INJECTION")
	setInt(&cfg.Chaos.LatencyInjectionMs, "LATENCY_INJECTION_MS")

	return cfg
}

// Validate checks the configuration for fatal startup errors.
func (c *Config) Validate() error {
	switch c.Store.Mode {
	case ModeMemory:
		if c.Server.Threads > 1 {
			return ErrMemoryModeThreads
		}
	case ModeExternal:
		if c.Store.RedisURL == "" {
			return ErrExternalStoreURL
		}
	default:
		return errors.New("MEM_OR_EXTERNAL must be MEM or EXTERNAL, got: " + c.Store.Mode)
	}

	if c.Auth.JWTSecretKey == "" && c.Server.Env != "development" {
		return ErrMissingJWTSecret
	}

	if c.RateLimit.LoginLimit < 0 || c.RateLimit.LoginWindowSeconds < 0 {
		return errors.New("login rate limit and window must be >= 0")
	}

	if c.Limits.MaxPageSize <= 0 {
		return errors.New("MAX_PAGE_SIZE must be > 0")
	}

	return nil
}

// Redacted returns a copy safe for admin display with secret values masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Store.RedisURL != "" {
		cp.Store.RedisURL = "[REDACTED]"
	}
	if cp.Store.EncryptionKey != "" {
		cp.Store.EncryptionKey = "[REDACTED]"
	}
	if cp.Auth.JWTSecretKey != "" {
		cp.Auth.JWTSecretKey = "[REDACTED]"
	}
	if cp.Auth.TokenEncryptionKey != "" {
		cp.Auth.TokenEncryptionKey = "[REDACTED]"
	}
	if cp.Auth.AdminPassword != "" {
		cp.Auth.AdminPassword = "[REDACTED]"
	}
	if cp.Metrics.PrometheusBearerToken != "" {
		cp.Metrics.PrometheusBearerToken = "[REDACTED]"
	}
	return &cp
}

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setCSV(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
