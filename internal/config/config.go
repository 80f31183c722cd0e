// Package config provides configuration loading and validation for the payments API.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"` // optional; in-memory rate limiting when empty

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // accepted during key rotation

	// Paystack
	PaystackSecretKey   string `koanf:"paystack_secret_key"`
	PaystackBaseURL     string `koanf:"paystack_base_url"`
	PaystackCallbackURL string `koanf:"paystack_callback_url"`
	PaystackCurrency    string `koanf:"paystack_currency"`

	// Stripe (optional second provider)
	StripeAPIKey        string `koanf:"stripe_api_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`
	StripeSuccessURL    string `koanf:"stripe_success_url"`
	StripeCancelURL     string `koanf:"stripe_cancel_url"`

	// ProviderVerifyTimeout bounds transaction re-verification inside a webhook request.
	ProviderVerifyTimeout time.Duration `koanf:"provider_verify_timeout"`

	// Rate limiting for checkout initialization
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// Request idempotency keys
	IdempotencyTTL             time.Duration `koanf:"idempotency_ttl"`
	IdempotencyCleanupInterval time.Duration `koanf:"idempotency_cleanup_interval"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`

	// Include payment provider reachability in the readiness probe.
	ReadyCheckProviders bool `koanf:"ready_check_providers"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL         = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret           = errors.New("JWT_SECRET is required")
	ErrMissingPaystackSecretKey   = errors.New("PAYSTACK_SECRET_KEY is required")
	ErrMissingStripeAPIKey        = errors.New("STRIPE_API_KEY is required when Stripe is configured")
	ErrMissingStripeWebhookSecret = errors.New("STRIPE_WEBHOOK_SECRET is required when Stripe is configured")
	ErrMissingStripeSuccessURL    = errors.New("STRIPE_SUCCESS_URL is required when Stripe is configured")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrInvalidDuration            = errors.New("invalid duration")
	ErrInvalidNumber              = errors.New("invalid number")
	ErrInvalidVerifyTimeout       = errors.New("PROVIDER_VERIFY_TIMEOUT must be positive")
	ErrInvalidSampleRate          = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidRateLimit           = errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort                       = 8080
	DefaultEnv                        = "development"
	DefaultPaystackBaseURL            = "https://api.paystack.co"
	DefaultPaystackCurrency           = "NGN"
	DefaultProviderVerifyTimeout      = 10 * time.Second
	DefaultRateLimitRequests          = 10
	DefaultRateLimitWindow            = time.Minute
	DefaultIdempotencyTTL             = 24 * time.Hour
	DefaultIdempotencyCleanupInterval = time.Hour
	DefaultTracingExporter            = "otlp-http"
	DefaultTracingSampleRate          = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"FXA_PORT", "PORT"}, k.Int("port"), DefaultPort)
	collect(err)
	rateLimitRequests, err := getEnvIntOrDefault("RATE_LIMIT_REQUESTS", k.Int("rate_limit_requests"), DefaultRateLimitRequests)
	collect(err)
	verifyTimeout, err := getEnvDurationOrDefault("PROVIDER_VERIFY_TIMEOUT", k, "provider_verify_timeout", DefaultProviderVerifyTimeout)
	collect(err)
	rateLimitWindow, err := getEnvDurationOrDefault("RATE_LIMIT_WINDOW", k, "rate_limit_window", DefaultRateLimitWindow)
	collect(err)
	idempotencyTTL, err := getEnvDurationOrDefault("IDEMPOTENCY_TTL", k, "idempotency_ttl", DefaultIdempotencyTTL)
	collect(err)
	cleanupInterval, err := getEnvDurationOrDefault("IDEMPOTENCY_CLEANUP_INTERVAL", k, "idempotency_cleanup_interval", DefaultIdempotencyCleanupInterval)
	collect(err)
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultTracingSampleRate)
	collect(err)

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                       port,
		Env:                        getEnvOrDefaultMulti([]string{"FXA_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:                getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:                   getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:                  getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:          getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		PaystackSecretKey:          getEnvOrKoanf("PAYSTACK_SECRET_KEY", k, "paystack_secret_key"),
		PaystackBaseURL:            getEnvOrDefault("PAYSTACK_BASE_URL", k.String("paystack_base_url"), DefaultPaystackBaseURL),
		PaystackCallbackURL:        getEnvOrKoanf("PAYSTACK_CALLBACK_URL", k, "paystack_callback_url"),
		PaystackCurrency:           getEnvOrDefault("PAYSTACK_CURRENCY", k.String("paystack_currency"), DefaultPaystackCurrency),
		StripeAPIKey:               getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		StripeWebhookSecret:        getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		StripeSuccessURL:           getEnvOrKoanf("STRIPE_SUCCESS_URL", k, "stripe_success_url"),
		StripeCancelURL:            getEnvOrKoanf("STRIPE_CANCEL_URL", k, "stripe_cancel_url"),
		ProviderVerifyTimeout:      verifyTimeout,
		RateLimitRequests:          rateLimitRequests,
		RateLimitWindow:            rateLimitWindow,
		IdempotencyTTL:             idempotencyTTL,
		IdempotencyCleanupInterval: cleanupInterval,
		TracingEnabled:             getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporter:            getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:            getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:          sampleRate,
		TracingInsecure:            getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure"),
		ReadyCheckProviders:        getEnvBoolOrKoanf("READY_CHECK_PROVIDERS", k, "ready_check_providers"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	return getEnvIntOrDefaultMulti([]string{envKey}, koanfVal, defaultVal)
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns an error if a set variable cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				if key == "PORT" || key == "FXA_PORT" {
					return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
				}
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidNumber)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses Go duration strings ("10s", "1h") from env or file.
func getEnvDurationOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(envKey)
	if raw == "" {
		raw = k.String(koanfKey)
	}
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %q", envKey, ErrInvalidDuration, raw)
	}
	return d, nil
}

func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return k.Bool(koanfKey)
}

// StripeEnabled reports whether any Stripe setting is present.
func (c *Config) StripeEnabled() bool {
	return c.StripeAPIKey != "" || c.StripeWebhookSecret != "" || c.StripeSuccessURL != ""
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.PaystackSecretKey == "" {
		errs = append(errs, ErrMissingPaystackSecretKey)
	}
	if c.ProviderVerifyTimeout <= 0 {
		errs = append(errs, ErrInvalidVerifyTimeout)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	// Stripe is optional. Once any value is set the group must be complete.
	if c.StripeEnabled() {
		if c.StripeAPIKey == "" {
			errs = append(errs, ErrMissingStripeAPIKey)
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, ErrMissingStripeWebhookSecret)
		}
		if c.StripeSuccessURL == "" {
			errs = append(errs, ErrMissingStripeSuccessURL)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                         strconv.Itoa(c.Port),
		"env":                          c.Env,
		"database_url":                 maskDatabaseURL(c.DatabaseURL),
		"redis_url":                    maskDatabaseURL(c.RedisURL),
		"jwt_secret":                   maskSecret(c.JWTSecret),
		"jwt_previous_secret":          maskSecret(c.JWTPreviousSecret),
		"paystack_secret_key":          maskProviderKey(c.PaystackSecretKey),
		"paystack_base_url":            c.PaystackBaseURL,
		"paystack_callback_url":        c.PaystackCallbackURL,
		"paystack_currency":            c.PaystackCurrency,
		"stripe_api_key":               maskProviderKey(c.StripeAPIKey),
		"stripe_webhook_secret":        maskSecret(c.StripeWebhookSecret),
		"stripe_success_url":           c.StripeSuccessURL,
		"stripe_cancel_url":            c.StripeCancelURL,
		"provider_verify_timeout":      c.ProviderVerifyTimeout.String(),
		"rate_limit_requests":          strconv.Itoa(c.RateLimitRequests),
		"rate_limit_window":            c.RateLimitWindow.String(),
		"idempotency_ttl":              c.IdempotencyTTL.String(),
		"idempotency_cleanup_interval": c.IdempotencyCleanupInterval.String(),
		"tracing_enabled":              strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":             c.TracingExporter,
		"tracing_endpoint":             c.TracingEndpoint,
		"tracing_sample_rate":          strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
		"ready_check_providers":        strconv.FormatBool(c.ReadyCheckProviders),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskProviderKey keeps the key prefix (sk_live_, sk_test_) so the mode stays visible.
func maskProviderKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL (user:password@host).
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
