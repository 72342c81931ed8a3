// Package config loads engine configuration from a yaml file and the
// environment, with defaults sensible enough to run the engine with no file
// at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root engine configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Scoring   ScoringConfig   `mapstructure:"scoring" yaml:"scoring"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
}

// ServerConfig configures the administrative HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "badger", "postgres", "sqlite".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the data directory (badger) or file (sqlite).
	Path string `mapstructure:"path" yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// CacheConfig configures the directory lookup cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db" yaml:"redis_db"`
}

// ScoringConfig tunes the risk scoring engine.
type ScoringConfig struct {
	FailOpen         bool          `mapstructure:"fail_open" yaml:"fail_open"`
	DirectoryTimeout time.Duration `mapstructure:"directory_timeout" yaml:"directory_timeout"`
}

// LimitsConfig tunes the limit enforcer.
type LimitsConfig struct {
	HistoryCap int `mapstructure:"history_cap" yaml:"history_cap"`
}

// DirectoryConfig tunes the entity directory.
type DirectoryConfig struct {
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold" yaml:"fuzzy_threshold"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level" yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `mapstructure:"development" yaml:"development"`
}

// AuthConfig configures the admin API's bearer auth.
type AuthConfig struct {
	// JWTSecret signs admin tokens. Empty disables auth (dev only).
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// Load reads configuration from the optional file path plus RISKENGINE_*
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RISKENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.path", "./data/riskengine")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("scoring.fail_open", true)
	v.SetDefault("scoring.directory_timeout", 300*time.Millisecond)

	v.SetDefault("limits.history_cap", 1000)

	v.SetDefault("directory.fuzzy_threshold", 0.85)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "badger", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Directory.FuzzyThreshold <= 0 || c.Directory.FuzzyThreshold > 1 {
		return fmt.Errorf("directory.fuzzy_threshold must be in (0, 1]")
	}
	return nil
}
