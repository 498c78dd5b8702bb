// Package server provides configuration loading, defaults and sanitizing
// for the chat service.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// RateLimitConfig defines per-connection inbound frame limiting. It is off
// unless Enabled is set.
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"-"`
}

// StoreConfig selects and configures the message store.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	SQLitePath    string `mapstructure:"sqlitePath"`
	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDB"`
	RedisPrefix   string `mapstructure:"redisPrefix"`
}

// SeedUser is a user written to the identity directory at startup.
type SeedUser struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Role     string `mapstructure:"role"`
}

// IdentityConfig configures identity resolution.
type IdentityConfig struct {
	CacheTTL time.Duration `mapstructure:"cacheTTL"`
	Users    []SeedUser    `mapstructure:"users"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds the service configuration.
type Config struct {
	Port            string          `mapstructure:"port"`
	AllowedOrigins  []string        `mapstructure:"allowedOrigins"`
	MaxMessageSize  int64           `mapstructure:"maxMessageSize"`
	RateLimit       RateLimitConfig `mapstructure:"rateLimit"`
	BacklogSize     int             `mapstructure:"backlogSize"`
	Store           StoreConfig     `mapstructure:"store"`
	Identity        IdentityConfig  `mapstructure:"identity"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdownTimeout"`
	Log             LogConfig       `mapstructure:"log"`
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 8192
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultBacklogSize     = 50
	defaultSQLitePath      = "chatroom.db"
	defaultRedisAddr       = "localhost:6379"
	defaultIdentityTTL     = 5 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Enabled:        false,
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		BacklogSize: defaultBacklogSize,
		Store: StoreConfig{
			Driver:     StoreMemory,
			SQLitePath: defaultSQLitePath,
			RedisAddr:  defaultRedisAddr,
		},
		Identity: IdentityConfig{
			CacheTTL: defaultIdentityTTL,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path looks for
// chatroom.yaml in the working directory; a missing file is not an error.
func LoadConfig(logger *slog.Logger, path string) (*Config, error) {
	v := viper.New()
	def := defaultConfig()

	v.SetDefault("port", def.Port)
	v.SetDefault("allowedOrigins", def.AllowedOrigins)
	v.SetDefault("maxMessageSize", def.MaxMessageSize)
	v.SetDefault("rateLimit.enabled", def.RateLimit.Enabled)
	v.SetDefault("rateLimit.burst", def.RateLimit.Burst)
	v.SetDefault("rateLimit.refillInterval", def.RateLimit.RefillInterval.String())
	v.SetDefault("backlogSize", def.BacklogSize)
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.sqlitePath", def.Store.SQLitePath)
	v.SetDefault("store.redisAddr", def.Store.RedisAddr)
	v.SetDefault("store.redisPassword", "")
	v.SetDefault("store.redisDB", 0)
	v.SetDefault("store.redisPrefix", "")
	v.SetDefault("identity.cacheTTL", def.Identity.CacheTTL)
	v.SetDefault("shutdownTimeout", def.ShutdownTimeout)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chatroom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHATROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment names understood by earlier releases.
	legacy := map[string]string{
		"port":                     "SERVER_PORT",
		"allowedOrigins":           "ALLOWED_ORIGINS",
		"maxMessageSize":           "MAX_MESSAGE_SIZE",
		"rateLimit.burst":          "RATE_LIMIT_BURST",
		"rateLimit.refillInterval": "RATE_LIMIT_REFILL_INTERVAL",
	}
	for key, env := range legacy {
		canonical := "CHATROOM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, canonical, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found, relying on defaults and environment")
	} else {
		logger.Info("Loaded config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AllowedOrigins = parseOrigins(v.GetStringSlice("allowedOrigins"))
	cfg.RateLimit.RefillInterval = parseRefillInterval(v.GetString("rateLimit.refillInterval"), def.RateLimit.RefillInterval)

	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	cfg.Port = strings.TrimSpace(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = def.BacklogSize
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = def.Store.SQLitePath
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = def.Store.RedisAddr
	}

	if cfg.Identity.CacheTTL < 0 {
		cfg.Identity.CacheTTL = 0
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.Identity.Users = append([]SeedUser(nil), cfg.Identity.Users...)
	return cfg
}

// parseOrigins flattens comma separated entries, which is how a list
// arrives from an environment variable.
func parseOrigins(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// parseRefillInterval accepts a Go duration ("500ms") or a whole number of
// seconds ("2").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
