// Package config handles loading and managing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment selects the logger flavour ("production" or anything else).
	Environment string `mapstructure:"environment"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Storage backend
	Database DatabaseConfig `mapstructure:"database"`

	// Mercado Pago marketplace application
	MercadoPago MercadoPagoConfig `mapstructure:"mercadopago"`

	// Webhook worker pool
	Webhooks WebhookConfig `mapstructure:"webhooks"`

	// Booking core internal API (optional)
	Core CoreConfig `mapstructure:"core"`

	// Public booking flow
	Booking BookingConfig `mapstructure:"booking"`

	// Security settings
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	GinMode         string        `mapstructure:"gin_mode"` // "debug", "release", or "test"
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
}

// MercadoPagoConfig holds the OAuth application and API settings.
type MercadoPagoConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURI  string        `mapstructure:"redirect_uri"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	AuthBaseURL  string        `mapstructure:"auth_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// WebhookConfig sizes notification processing.
type WebhookConfig struct {
	SignatureScheme string        `mapstructure:"signature_scheme"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
}

// CoreConfig holds booking core API configuration.
type CoreConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// BookingConfig holds the URLs and defaults of the public booking flow.
type BookingConfig struct {
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	FrontendBaseURL string        `mapstructure:"frontend_base_url"`
	DefaultCurrency string        `mapstructure:"default_currency"`
	LinkDefaultTTL  time.Duration `mapstructure:"link_default_ttl"`
	Timezone        string        `mapstructure:"timezone"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	VaultKey      string `mapstructure:"vault_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	JWTSecret     string `mapstructure:"jwt_secret"`
}

// envBindings maps config keys to the environment variables that set them.
// The first non-empty variable wins.
var envBindings = map[string][]string{
	"environment":               {"ENVIRONMENT"},
	"server.port":               {"PORT"},
	"server.gin_mode":           {"GIN_MODE"},
	"server.shutdown_timeout":   {"SHUTDOWN_TIMEOUT"},
	"database.driver":           {"DATABASE_DRIVER"},
	"database.path":             {"DATABASE_PATH"},
	"database.url":              {"DATABASE_URL"},
	"mercadopago.client_id":     {"MP_CLIENT_ID"},
	"mercadopago.client_secret": {"MP_CLIENT_SECRET"},
	"mercadopago.redirect_uri":  {"MP_REDIRECT_URI"},
	"mercadopago.api_base_url":  {"MP_API_BASE_URL"},
	"mercadopago.auth_base_url": {"MP_AUTH_BASE_URL"},
	"mercadopago.http_timeout":  {"MP_HTTP_TIMEOUT"},
	"webhooks.signature_scheme": {"WEBHOOK_SIGNATURE_SCHEME"},
	"webhooks.workers":          {"WEBHOOK_WORKERS"},
	"webhooks.queue_size":       {"WEBHOOK_QUEUE_SIZE"},
	"webhooks.job_timeout":      {"WEBHOOK_JOB_TIMEOUT"},
	"core.base_url":             {"BOOKING_CORE_URL"},
	"core.api_key":              {"BOOKING_CORE_API_KEY"},
	"booking.public_base_url":   {"PUBLIC_BASE_URL"},
	"booking.frontend_base_url": {"FRONTEND_BASE_URL"},
	"booking.default_currency":  {"DEFAULT_CURRENCY"},
	"booking.link_default_ttl":  {"LINK_DEFAULT_TTL"},
	"booking.timezone":          {"BOOKING_TIMEZONE"},
	"security.vault_key":        {"VAULT_KEY", "ENCRYPTION_KEY"},
	"security.webhook_secret":   {"MP_WEBHOOK_SECRET"},
	"security.jwt_secret":       {"AUTH_JWT_SECRET"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "debug")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "salon-payments.db")
	v.SetDefault("database.url", "")
	v.SetDefault("mercadopago.client_id", "")
	v.SetDefault("mercadopago.client_secret", "")
	v.SetDefault("mercadopago.redirect_uri", "")
	v.SetDefault("mercadopago.api_base_url", "https://api.mercadopago.com")
	v.SetDefault("mercadopago.auth_base_url", "https://auth.mercadopago.com")
	v.SetDefault("mercadopago.http_timeout", 10*time.Second)
	v.SetDefault("webhooks.signature_scheme", "fields")
	v.SetDefault("webhooks.workers", 4)
	v.SetDefault("webhooks.queue_size", 256)
	v.SetDefault("webhooks.job_timeout", 30*time.Second)
	v.SetDefault("core.base_url", "")
	v.SetDefault("core.api_key", "")
	v.SetDefault("booking.public_base_url", "http://localhost:8080")
	v.SetDefault("booking.frontend_base_url", "http://localhost:3000")
	v.SetDefault("booking.default_currency", "ARS")
	v.SetDefault("booking.link_default_ttl", 30*24*time.Hour)
	v.SetDefault("booking.timezone", "America/Argentina/Buenos_Aires")
	v.SetDefault("security.vault_key", "")
	v.SetDefault("security.webhook_secret", "")
	v.SetDefault("security.jwt_secret", "")
}

// Load reads configuration from an optional yaml file and the environment.
// Priority (highest to lowest): environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.Webhooks.SignatureScheme = strings.ToLower(cfg.Webhooks.SignatureScheme)
	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate fails fast on settings the service cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.Security.VaultKey == "" {
		errs = append(errs, errors.New("VAULT_KEY (or ENCRYPTION_KEY) is required"))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q must be sqlite or postgres", c.Database.Driver))
	}

	switch c.Webhooks.SignatureScheme {
	case "fields", "body":
	default:
		errs = append(errs, fmt.Errorf("WEBHOOK_SIGNATURE_SCHEME %q must be fields or body", c.Webhooks.SignatureScheme))
	}

	if c.Webhooks.Workers <= 0 || c.Webhooks.QueueSize <= 0 {
		errs = append(errs, errors.New("WEBHOOK_WORKERS and WEBHOOK_QUEUE_SIZE must be positive"))
	}

	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("BOOKING_TIMEZONE %q: %w", c.Booking.Timezone, err))
	}

	if c.IsProduction() {
		if c.MercadoPago.ClientID == "" || c.MercadoPago.ClientSecret == "" {
			errs = append(errs, errors.New("MP_CLIENT_ID and MP_CLIENT_SECRET are required in production"))
		}
		if c.Security.WebhookSecret == "" {
			errs = append(errs, errors.New("MP_WEBHOOK_SECRET is required in production"))
		}
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are allowed but probably unintended.
func (c *Config) Warnings() []string {
	var out []string
	if c.Security.WebhookSecret == "" {
		out = append(out, "MP_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	if c.MercadoPago.ClientID == "" || c.MercadoPago.ClientSecret == "" {
		out = append(out, "MP_CLIENT_ID/MP_CLIENT_SECRET not set, connect and token refresh will fail")
	}
	if c.Core.BaseURL != "" && c.Core.APIKey == "" {
		out = append(out, "BOOKING_CORE_API_KEY not set")
	}
	return out
}
