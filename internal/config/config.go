package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig      `mapstructure:"server"`
	Database      DatabaseConfig    `mapstructure:"database"`
	Cache         CacheConfig       `mapstructure:"cache"`
	Retry         RetryConfig       `mapstructure:"retry"`
	Transaction   TransactionConfig `mapstructure:"transaction"`
	Log           LogConfig         `mapstructure:"log"`
	Auth          AuthConfig        `mapstructure:"auth"`
	Metrics       MetricsConfig     `mapstructure:"metrics"`
	Debug         bool              `mapstructure:"debug"`
	FunctionsFile string            `mapstructure:"functions_file"` // optional YAML config graph, used instead of the config tables

	// ReloadIntervalSeconds reloads the configuration graph periodically
	// when positive. The admin hooks stay the primary invalidation path.
	ReloadIntervalSeconds int `mapstructure:"reload_interval_seconds"`
}

func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadIntervalSeconds) * time.Second
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"` // mysql, postgres or sqlite
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	Name                   string `mapstructure:"name"`
	Path                   string `mapstructure:"path"` // directory for SQLite database files
	PoolSize               int    `mapstructure:"pool_size"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	StatementTimeoutMs     int    `mapstructure:"statement_timeout_ms"`
	HealthCheckTimeoutMs   int    `mapstructure:"health_check_timeout_ms"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		if d.Name == ":memory:" {
			return "file::memory:?cache=shared"
		}
		return d.Path + "/" + d.Name + ".db"
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			d.User, d.Password, d.Host, d.Port, d.Name)
	default:
		// multiStatements stays off: every procedure call is a single CALL.
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name)
	}
}

func (d DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(d.StatementTimeoutMs) * time.Millisecond
}

func (d DatabaseConfig) HealthCheckTimeout() time.Duration {
	return time.Duration(d.HealthCheckTimeoutMs) * time.Millisecond
}

func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}

type CacheConfig struct {
	Driver               string `mapstructure:"driver"` // memory or redis
	RedisAddr            string `mapstructure:"redis_addr"`
	RedisPassword        string `mapstructure:"redis_password"`
	RedisDB              int    `mapstructure:"redis_db"`
	Prefix               string `mapstructure:"prefix"`
	PermissionTTLSeconds int    `mapstructure:"permission_ttl_seconds"`
}

func (c CacheConfig) PermissionTTL() time.Duration {
	return time.Duration(c.PermissionTTLSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	BaseDelayMs    int     `mapstructure:"base_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	JitterFraction float64 `mapstructure:"jitter_fraction"`
}

type TransactionConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLSeconds int    `mapstructure:"token_ttl_seconds"`

	// TokenExchange mounts POST /api/auth/token. Off by default: bearer
	// tokens are expected from an external issuer.
	TokenExchange bool `mapstructure:"token_exchange_enabled"`
}

func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLSeconds) * time.Second
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("debug", false)
	v.SetDefault("functions_file", "")
	v.SetDefault("reload_interval_seconds", 0)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "procgate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "procgate")
	v.SetDefault("database.path", "./data")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_seconds", 1800)
	v.SetDefault("database.statement_timeout_ms", 30000)
	v.SetDefault("database.health_check_timeout_ms", 2000)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "procgate:")
	v.SetDefault("cache.permission_ttl_seconds", 1800)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 100)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay_ms", 5000)
	v.SetDefault("retry.jitter_fraction", 0.1)

	v.SetDefault("transaction.max_attempts", 3)
	v.SetDefault("transaction.base_delay_ms", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("auth.token_ttl_seconds", 900)
	v.SetDefault("auth.token_exchange_enabled", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads procgate.yaml (or the file at path) and applies PROCGATE_*
// environment overrides. A missing config file is not an error when no
// explicit path was given.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("procgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PROCGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be mysql, postgres or sqlite, got %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.driver must be memory or redis, got %q", c.Cache.Driver)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Transaction.MaxAttempts < 1 {
		return fmt.Errorf("transaction.max_attempts must be at least 1")
	}
	if c.ReloadIntervalSeconds < 0 {
		return fmt.Errorf("reload_interval_seconds must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	return nil
}
