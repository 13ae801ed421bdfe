package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Steam     SteamConfig     `yaml:"steam"`
	Cache     CacheConfig     `yaml:"cache"`
	Widget    WidgetConfig    `yaml:"widget"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// SteamConfig holds Steam Web API configuration
type SteamConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	CDNBaseURL      string        `yaml:"cdn_base_url"`
	Language        string        `yaml:"language"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RequestsPerSec  float64       `yaml:"requests_per_second"`
	Burst           int           `yaml:"burst"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// CacheConfig holds per-player cache configuration
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// WidgetConfig holds widget response configuration
type WidgetConfig struct {
	DefaultCount int    `yaml:"default_count"`
	MaxCount     int    `yaml:"max_count"`
	IdleMessage  string `yaml:"idle_message"`
	ErrorMessage string `yaml:"error_message"`
}

// RateLimitConfig holds inbound per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// WatchConfig holds configuration for background polling of known players
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Players  []string      `yaml:"players"`
	Count    int           `yaml:"count"`
}

// Load reads configuration from a YAML file. Variables from a .env file in
// the working directory are loaded first so the YAML can reference them.
func Load(path string) (*Config, error) {
	// A missing .env is fine, real environment variables still apply
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// newConfig seeds the switches that default to on. A bool's zero value cannot
// tell an omitted key from an explicit false, so these are set before decoding
// and only an explicit value in the file overrides them.
func newConfig() *Config {
	return &Config{
		RateLimit: RateLimitConfig{Enabled: true},
	}
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Steam defaults
	if c.Steam.APIKey == "" {
		c.Steam.APIKey = os.Getenv("STEAM_API_KEY")
	}
	if c.Steam.BaseURL == "" {
		c.Steam.BaseURL = "https://api.steampowered.com"
	}
	if c.Steam.CDNBaseURL == "" {
		c.Steam.CDNBaseURL = "https://cdn.cloudflare.steamstatic.com"
	}
	if c.Steam.Language == "" {
		c.Steam.Language = "latam"
	}
	if c.Steam.RequestTimeout == 0 {
		c.Steam.RequestTimeout = 5 * time.Second
	}
	if c.Steam.RequestsPerSec == 0 {
		c.Steam.RequestsPerSec = 20
	}
	if c.Steam.Burst == 0 {
		c.Steam.Burst = 40
	}
	if c.Steam.MaxIdleConns == 0 {
		c.Steam.MaxIdleConns = 20
	}
	if c.Steam.IdleConnTimeout == 0 {
		c.Steam.IdleConnTimeout = 90 * time.Second
	}

	// Cache defaults
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Second
	}

	// Widget defaults
	if c.Widget.DefaultCount == 0 {
		c.Widget.DefaultCount = 3
	}
	if c.Widget.MaxCount == 0 {
		c.Widget.MaxCount = 50
	}
	if c.Widget.IdleMessage == "" {
		c.Widget.IdleMessage = "Listo para monitorear"
	}
	if c.Widget.ErrorMessage == "" {
		c.Widget.ErrorMessage = "Error consultando Steam"
	}

	// Rate limit defaults
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "achievement-unlocks"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "unlock-tail"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 250 * time.Millisecond
	}

	// Watch defaults
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 30 * time.Second
	}
	if c.Watch.Count == 0 {
		c.Watch.Count = c.Widget.DefaultCount
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}
