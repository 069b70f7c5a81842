// Package config handles launchkit configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Billing   BillingConfig   `json:"billing"`
	Assistant AssistantConfig `json:"assistant,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`
	AppURL         string   `json:"app_url"`                   // public URL used for checkout/portal return links
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // default 1MB
	RequestTimeout Duration `json:"request_timeout,omitempty"` // per-request deadline; default 30s
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider   string   `json:"provider,omitempty"` // "builtin" (default) or "jwks"
	JWTSecret  string   `json:"jwt_secret,omitempty"`
	JWTExpiry  Duration `json:"jwt_expiry,omitempty"`
	JWKSURL    string   `json:"jwks_url,omitempty"` // e.g. "https://xyz.supabase.co/auth/v1/.well-known/jwks.json"
	Issuer     string   `json:"issuer,omitempty"`
	Audience   string   `json:"audience,omitempty"`
	CookieName string   `json:"cookie_name,omitempty"` // token cookie set by the auth client; default "access_token"
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "launchkit.db", ":memory:" or a postgres URL
}

// BillingConfig defines payment processor settings.
type BillingConfig struct {
	StripeSecretKey      string        `json:"stripe_secret_key"`
	StripeWebhookSecret  string        `json:"stripe_webhook_secret"`
	StripePublishableKey string        `json:"stripe_publishable_key,omitempty"` // for frontend checkout
	StripePriceBasic     string        `json:"stripe_price_basic"`
	StripePricePro       string        `json:"stripe_price_pro"`
	StripeAPIURL         string        `json:"stripe_api_url,omitempty"` // override for mocks
	WebhookTolerance     Duration      `json:"webhook_tolerance,omitempty"`
	RejectStaleUpdates   bool          `json:"reject_stale_updates,omitempty"`
	Breaker              BreakerConfig `json:"breaker,omitempty"` // around Stripe API calls
}

// Prices returns the configured price id per purchasable plan id.
func (b BillingConfig) Prices() map[string]string {
	return map[string]string{
		"basic": b.StripePriceBasic,
		"pro":   b.StripePricePro,
	}
}

// AssistantConfig defines the hosted LLM settings. The assistant is disabled
// when APIKey is empty.
type AssistantConfig struct {
	APIKey    string        `json:"api_key,omitempty"`
	BaseURL   string        `json:"base_url,omitempty"` // default "https://api.openai.com/v1"
	Model     string        `json:"model,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Timeout   Duration      `json:"timeout,omitempty"`
	Breaker   BreakerConfig `json:"breaker,omitempty"`
}

// BreakerConfig tunes a circuit breaker around an outbound API. Zero
// values keep the breaker defaults.
type BreakerConfig struct {
	FailureThreshold uint32   `json:"failure_threshold,omitempty"` // consecutive failures before opening
	MaxRequests      uint32   `json:"max_requests,omitempty"`      // half-open probes
	Interval         Duration `json:"interval,omitempty"`
	Timeout          Duration `json:"timeout,omitempty"` // how long the breaker stays open
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads an optional config file, applies environment overrides and
// validates the result. An empty path means environment-only configuration.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv overrides file values with the environment. DATABASE_URL also
// selects the storage driver from its scheme.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		c.Storage.Driver = driverForDSN(v)
	}
	setFromEnv(&c.Billing.StripeSecretKey, "STRIPE_SECRET_KEY")
	setFromEnv(&c.Billing.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setFromEnv(&c.Billing.StripePublishableKey, "STRIPE_PUBLISHABLE_KEY")
	setFromEnv(&c.Billing.StripePriceBasic, "STRIPE_PRICE_ID_BASIC")
	setFromEnv(&c.Billing.StripePricePro, "STRIPE_PRICE_ID_PRO")
	setFromEnv(&c.Server.AppURL, "APP_URL")
	setFromEnv(&c.Server.Addr, "LISTEN_ADDR")
	setFromEnv(&c.Assistant.APIKey, "OPENAI_API_KEY")
	setFromEnv(&c.Auth.JWTSecret, "JWT_SECRET")
	setFromEnv(&c.Logging.Level, "LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func driverForDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func (c *Config) validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "", "sqlite":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn (DATABASE_URL) is required"))
		}
	case "postgres":
		if _, err := url.Parse(c.Storage.DSN); err != nil || c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn (DATABASE_URL) must be a postgres URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	if c.Billing.StripeSecretKey == "" {
		errs = append(errs, errors.New("billing.stripe_secret_key (STRIPE_SECRET_KEY) is required"))
	}
	if c.Billing.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("billing.stripe_webhook_secret (STRIPE_WEBHOOK_SECRET) is required"))
	}
	if c.Billing.StripePriceBasic == "" {
		errs = append(errs, errors.New("billing.stripe_price_basic (STRIPE_PRICE_ID_BASIC) is required"))
	}
	if c.Billing.StripePricePro == "" {
		errs = append(errs, errors.New("billing.stripe_price_pro (STRIPE_PRICE_ID_PRO) is required"))
	}

	if err := validateAppURL(c.Server.AppURL); err != nil {
		errs = append(errs, err)
	}

	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
		} else if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("auth.jwt_secret must be at least 32 characters"))
		} else if knownWeakSecrets[c.Auth.JWTSecret] {
			errs = append(errs, errors.New("auth.jwt_secret is a well-known weak secret, generate a new one"))
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			errs = append(errs, errors.New("auth.jwks_url is required when provider is jwks"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.provider %q is not supported", c.Auth.Provider))
	}

	return errors.Join(errs...)
}

func validateAppURL(raw string) error {
	if raw == "" {
		return errors.New("server.app_url (APP_URL) is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.app_url %q must be an absolute http(s) URL", raw)
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Server.AppURL = strings.TrimRight(c.Server.AppURL, "/")
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Server.RequestTimeout.Duration == 0 {
		c.Server.RequestTimeout.Duration = 30 * time.Second
	}
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "access_token"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Billing.WebhookTolerance.Duration == 0 {
		c.Billing.WebhookTolerance.Duration = 5 * time.Minute
	}
	if c.Assistant.BaseURL == "" {
		c.Assistant.BaseURL = "https://api.openai.com/v1"
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = "gpt-3.5-turbo"
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = 500
	}
	if c.Assistant.Timeout.Duration == 0 {
		c.Assistant.Timeout.Duration = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
