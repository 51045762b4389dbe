package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	NumberingPostgres = "postgres"
	NumberingRedis    = "redis"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string   `mapstructure:"REDIS_URL"`
	NumberingBackend string   `mapstructure:"NUMBERING_BACKEND"`
	AuthIssuer       string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey   string   `mapstructure:"AUTH_SIGNING_KEY"`
	DevUserID        string   `mapstructure:"DEV_USER_ID"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	DefaultTaxRate   string   `mapstructure:"DEFAULT_TAX_RATE"`
	DefaultUnitPrice string   `mapstructure:"DEFAULT_UNIT_PRICE"`
	InvoiceDueDays   int      `mapstructure:"INVOICE_DUE_DAYS"`
	TLSEnabled       bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile      string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile       string   `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "NUMBERING_BACKEND",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "DEV_USER_ID",
	"CORS_ORIGINS", "DEFAULT_TAX_RATE", "DEFAULT_UNIT_PRICE", "INVOICE_DUE_DAYS",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("NUMBERING_BACKEND", NumberingPostgres)
	v.SetDefault("DEV_USER_ID", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_TAX_RATE", "0.07")
	v.SetDefault("DEFAULT_UNIT_PRICE", "500.00")
	v.SetDefault("INVOICE_DUE_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a token act as an admin. Set ENV=production to enforce JWT auth.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TaxRate is DEFAULT_TAX_RATE as a decimal. Call Validate first.
func (c *Config) TaxRate() decimal.Decimal {
	d, _ := decimal.NewFromString(c.DefaultTaxRate)
	return d
}

// UnitPrice is DEFAULT_UNIT_PRICE as a decimal. Call Validate first.
func (c *Config) UnitPrice() decimal.Decimal {
	d, _ := decimal.NewFromString(c.DefaultUnitPrice)
	return d
}

// DevUser is the staff id development requests act as.
func (c *Config) DevUser() uuid.UUID {
	id, err := uuid.Parse(c.DevUserID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Validate checks that the configuration is safe to run. Outside
// development, JWT verification needs a signing key, an issuer or a JWKS URL.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("one of AUTH_SIGNING_KEY, AUTH_ISSUER or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.IsDev() && c.DevUser() == uuid.Nil {
		return fmt.Errorf("DEV_USER_ID must be a UUID, got %q", c.DevUserID)
	}

	switch c.NumberingBackend {
	case NumberingPostgres:
	case NumberingRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when NUMBERING_BACKEND is %q", NumberingRedis)
		}
	default:
		return fmt.Errorf("NUMBERING_BACKEND must be %q or %q, got %q", NumberingPostgres, NumberingRedis, c.NumberingBackend)
	}

	rate, err := decimal.NewFromString(c.DefaultTaxRate)
	if err != nil {
		return fmt.Errorf("DEFAULT_TAX_RATE is not a number: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("DEFAULT_TAX_RATE must be in [0, 1), got %s", rate)
	}
	if !rate.Equal(rate.Round(4)) {
		return fmt.Errorf("DEFAULT_TAX_RATE must have at most 4 decimal places, got %s", rate)
	}
	price, err := decimal.NewFromString(c.DefaultUnitPrice)
	if err != nil {
		return fmt.Errorf("DEFAULT_UNIT_PRICE is not a number: %w", err)
	}
	if price.IsNegative() {
		return fmt.Errorf("DEFAULT_UNIT_PRICE must not be negative, got %s", price)
	}
	if !price.Equal(price.Round(2)) {
		return fmt.Errorf("DEFAULT_UNIT_PRICE must have at most 2 decimal places, got %s", price)
	}
	if c.InvoiceDueDays <= 0 {
		return fmt.Errorf("INVOICE_DUE_DAYS must be positive, got %d", c.InvoiceDueDays)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
