package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Cache     CacheConfig     `mapstructure:"cache"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Features  map[string]bool `mapstructure:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the ledger store. Driver is "sqlite3" or "postgres";
// for sqlite3 the DSN is a file path.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes
	MaxRequestBodySize int64 `mapstructure:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Rate    int  `mapstructure:"rate"`
	Window  int  `mapstructure:"window"` // in seconds
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type LedgerConfig struct {
	StartingBalance string `mapstructure:"starting_balance"`
}

type AdminConfig struct {
	IDs []string `mapstructure:"ids"`
}

// AuthConfig configures caller identity. With an empty JWTSecret the caller
// is taken from the X-Account-ID header, which is only fit for development.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CacheConfig selects the leaderboard cache. An empty RedisAddr keeps the
// cache in process.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// NATSConfig enables publishing notifications to NATS when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Environment string `mapstructure:"environment"`
}

// CatalogConfig points at an optional YAML reward catalog seeded on startup.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

var defaults = map[string]any{
	"server.port":                    "8080",
	"server.host":                    "",
	"server.shutdown_timeout":        "15s",
	"database.driver":                "sqlite3",
	"database.dsn":                   "./kudos.db",
	"security.max_request_body_size": int64(1 << 20),
	"security.allowed_origins":       "*",
	"rate_limit.enabled":             true,
	"rate_limit.rate":                100,
	"rate_limit.window":              60,
	"log.level":                      "info",
	"log.development":                false,
	"ledger.starting_balance":        "100",
	"admin.ids":                      []string{},
	"auth.jwt_secret":                "",
	"cache.redis_addr":               "",
	"cache.redis_password":           "",
	"cache.redis_db":                 0,
	"cache.prefix":                   "kudos:",
	"cache.ttl":                      "5m",
	"nats.url":                       "",
	"nats.subject_prefix":            "kudos.notify",
	"scheduler.enabled":              true,
	"scheduler.interval":             "1h",
	"tracing.enabled":                false,
	"tracing.endpoint":               "http://localhost:14268/api/traces",
	"tracing.environment":            "development",
	"catalog.path":                   "",
	"features.leaderboard_cache":     true,
	"features.notifications":         true,
	"features.recurring_sweep":       true,
	"features.comments":              true,
}

// LoadConfig loads configuration from an optional YAML or JSON file and the
// environment. Environment variables take precedence over file values; a key
// such as database.dsn is read from DATABASE_DSN.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %s not found: %w", configFile, err)
			}
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Admin.IDs = splitList(cfg.Admin.IDs)

	return cfg, nil
}

// splitList flattens entries that still carry commas and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// StartingBalance returns the balance granted to new users.
func (c *Config) StartingBalance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Ledger.StartingBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ledger starting balance %q: %w", c.Ledger.StartingBalance, err)
	}
	return d, nil
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Security.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max request body size must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	balance, err := c.StartingBalance()
	if err != nil {
		return err
	}
	if balance.IsNegative() {
		return fmt.Errorf("ledger starting balance cannot be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	return nil
}
