package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vanishing.keys/internal/secrets"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins restricts CORS origins. Empty echoes any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Type         string         `yaml:"type"`
	ReapInterval time.Duration  `yaml:"reap_interval"`
	Redis        RedisConfig    `yaml:"redis"`
	LibSQL       LibSQLConfig   `yaml:"libsql"`
	Postgres     PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type LibSQLConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SecretsConfig struct {
	// DefaultDuration is one of the accepted duration tokens (10m, 24h, 7d).
	DefaultDuration string        `yaml:"default_duration"`
	GracePeriod     time.Duration `yaml:"grace_period"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	RedeemPerMin   int  `yaml:"redeem_per_min"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreLibSQL   = "libsql"
	StorePostgres = "postgres"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type:         StoreMemory,
			ReapInterval: time.Minute,
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				DB:          0,
				DialTimeout: time.Second,
			},
			LibSQL: LibSQLConfig{
				Path: "file:secrets.db",
			},
		},
		Secrets: SecretsConfig{
			DefaultDuration: "7d",
			GracePeriod:     secrets.DefaultGrace,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			RedeemPerMin:   30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, an optional .env file and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() error {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if err := envInt("PORT", &c.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	// Store
	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if err := envDuration("REAP_INTERVAL", &c.Store.ReapInterval); err != nil {
		return err
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if err := envInt("REDIS_DB", &c.Store.Redis.DB); err != nil {
		return err
	}
	if v := os.Getenv("LIBSQL_PATH"); v != "" {
		c.Store.LibSQL.Path = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}

	// Secrets
	if v := os.Getenv("DEFAULT_DURATION"); v != "" {
		c.Secrets.DefaultDuration = v
	}
	if err := envDuration("GRACE_PERIOD", &c.Secrets.GracePeriod); err != nil {
		return err
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if err := envInt("RATE_LIMIT_REQUESTS", &c.RateLimit.RequestsPerMin); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_REDEEM", &c.RateLimit.RedeemPerMin); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch c.Store.Type {
	case StoreMemory, StoreLibSQL, StorePostgres:
		if c.Store.ReapInterval < time.Second {
			return fmt.Errorf("reap_interval must be at least 1s")
		}
	case StoreRedis:
	default:
		return fmt.Errorf("invalid store type: %s (must be 'memory', 'redis', 'libsql' or 'postgres')", c.Store.Type)
	}

	if c.Store.Type == StoreRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store type is 'redis'")
	}
	if c.Store.Type == StoreLibSQL && c.Store.LibSQL.Path == "" {
		return fmt.Errorf("libsql path is required when store type is 'libsql'")
	}
	if c.Store.Type == StorePostgres && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required when store type is 'postgres'")
	}

	if _, err := c.DefaultDuration(); err != nil {
		return fmt.Errorf("default_duration: %w", err)
	}

	if c.Secrets.GracePeriod < secrets.MinGrace || c.Secrets.GracePeriod > secrets.MaxGrace {
		return fmt.Errorf("grace_period must be between %s and %s", secrets.MinGrace, secrets.MaxGrace)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin < 1 || c.RateLimit.RedeemPerMin < 1) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultDuration resolves the configured default duration token.
func (c *Config) DefaultDuration() (time.Duration, error) {
	return secrets.ParseDuration(c.Secrets.DefaultDuration)
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return level, nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
