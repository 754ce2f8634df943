// Package config loads the KiraKira API configuration once at process start.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. KIRAKIRA_JWT_SECRET.
const EnvPrefix = "KIRAKIRA"

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 32

// Configuration errors.
var (
	// ErrMissingSecret is returned when JWT_SECRET is not set.
	ErrMissingSecret = errors.New("missing KIRAKIRA_JWT_SECRET")

	// ErrSecretTooShort is returned when JWT_SECRET is shorter than MinSecretLength.
	ErrSecretTooShort = errors.New("KIRAKIRA_JWT_SECRET is too short")

	// ErrMissingDatabaseURL is returned when DATABASE_URL is not set.
	ErrMissingDatabaseURL = errors.New("missing KIRAKIRA_DATABASE_URL")

	// ErrInvalidTimezone is returned when DEFAULT_TIMEZONE is not a known IANA zone.
	ErrInvalidTimezone = errors.New("invalid KIRAKIRA_DEFAULT_TIMEZONE")
)

// Config holds every setting the API and the ops tool read.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Addr        string `mapstructure:"ADDR"`

	// Token signing
	JWTSecret string        `mapstructure:"JWT_SECRET"`
	TokenTTL  time.Duration `mapstructure:"TOKEN_TTL"`

	// DatabaseURL logs in as the RLS-subject role used for scoped and anonymous handles.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AdminDatabaseURL logs in with the service role and bypasses RLS. Optional.
	AdminDatabaseURL string `mapstructure:"ADMIN_DATABASE_URL"`

	RedisURL string `mapstructure:"REDIS_URL"`

	// Telegram
	TelegramBotToken string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL   string        `mapstructure:"TELEGRAM_API_URL"`
	InitDataMaxAge   time.Duration `mapstructure:"INIT_DATA_MAX_AGE"`

	AllowedOrigins  string `mapstructure:"ALLOWED_ORIGINS"`
	DefaultTimezone string `mapstructure:"DEFAULT_TIMEZONE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	// Ops tool
	APIURL       string `mapstructure:"API_URL"`
	ServiceToken string `mapstructure:"SERVICE_TOKEN"`
}

var keys = []string{
	"ENVIRONMENT", "ADDR", "JWT_SECRET", "TOKEN_TTL", "DATABASE_URL", "ADMIN_DATABASE_URL",
	"REDIS_URL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_API_URL", "INIT_DATA_MAX_AGE",
	"ALLOWED_ORIGINS", "DEFAULT_TIMEZONE", "LOG_LEVEL", "LOG_FILE", "API_URL", "SERVICE_TOKEN",
}

// Load reads configuration from <dir>/.env when present and from KIRAKIRA_* environment
// variables, which take precedence. It does not validate; call Validate or ValidateServer.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("ADDR", "127.0.0.1:8080")
	v.SetDefault("TOKEN_TTL", 7*24*time.Hour)
	v.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	v.SetDefault("INIT_DATA_MAX_AGE", 24*time.Hour)
	v.SetDefault("DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_URL", "http://127.0.0.1:8080")

	// Unmarshal only sees environment values for keys viper already knows about.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("binding %s: %w", k, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// ValidateServer checks the settings the API server cannot start without.
// ADMIN_DATABASE_URL is deliberately optional: without it, admin-only operations
// fail per request rather than at startup.
func (c *Config) ValidateServer() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	if len(c.JWTSecret) < MinSecretLength {
		return fmt.Errorf("%w: minimum of %d characters", ErrSecretTooShort, MinSecretLength)
	}
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the default timezone used to derive "today".
func (c *Config) Location() (*time.Location, error) {
	name := c.DefaultTimezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// Origins splits ALLOWED_ORIGINS on commas. An empty value allows every origin.
func (c *Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
