package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"slateboard/pkg/utils"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Storage struct {
		// Backend selects where board state lives: "memory", "file"
		// or "redis". Redis falls back to file when unreachable.
		Backend       string        `yaml:"backend"`
		DataDir       string        `yaml:"data_dir"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"storage"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Identity struct {
		// Mode is "local" (HS256 tokens minted by this server) or
		// "google" (opaque OAuth tokens resolved via the userinfo
		// endpoint).
		Mode        string        `yaml:"mode"`
		JWTSecret   string        `yaml:"jwt_secret"`
		UserinfoURL string        `yaml:"userinfo_url"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"identity"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		ServiceName    string  `yaml:"service_name"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("storage.backend must be one of memory, file, redis")
	}
	if c.Storage.Backend == "file" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty when storage.backend=file")
	}
	if c.Storage.FlushInterval <= 0 {
		return fmt.Errorf("storage.flush_interval must be > 0")
	}

	// Redis
	if c.Storage.Backend == "redis" {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when storage.backend=redis")
		}
	}

	// Identity
	switch c.Identity.Mode {
	case "local":
		if c.Identity.JWTSecret == "" {
			return fmt.Errorf("identity.jwt_secret must not be empty when identity.mode=local")
		}
	case "google":
		if c.Identity.UserinfoURL == "" {
			return fmt.Errorf("identity.userinfo_url must not be empty when identity.mode=google")
		}
		if c.Identity.CacheTTL <= 0 {
			return fmt.Errorf("identity.cache_ttl must be > 0 when identity.mode=google")
		}
		if c.Identity.Timeout <= 0 {
			return fmt.Errorf("identity.timeout must be > 0 when identity.mode=google")
		}
	default:
		return fmt.Errorf("identity.mode must be one of local, google")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.AllowedOrigins = []string{"*"}
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Storage.Backend = "file"
	cfg.Storage.DataDir = "data"
	cfg.Storage.FlushInterval = 15 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Identity.Mode = "local"
	cfg.Identity.JWTSecret = "change-me-in-production"
	cfg.Identity.UserinfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	cfg.Identity.CacheTTL = 5 * time.Minute
	cfg.Identity.Timeout = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.ServiceName = "slateboard"
	cfg.Tracing.SampleRate = 0.1

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("SLATEBOARD_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("SLATEBOARD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("SLATEBOARD_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if dir := os.Getenv("SLATEBOARD_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if addr := os.Getenv("SLATEBOARD_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if secret := os.Getenv("SLATEBOARD_JWT_SECRET"); secret != "" {
		c.Identity.JWTSecret = secret
	}
	if v := os.Getenv("SLATEBOARD_FLUSH_INTERVAL"); v != "" {
		c.Storage.FlushInterval = utils.ParseDurationSafe(v, c.Storage.FlushInterval)
	}
	if v := os.Getenv("SLATEBOARD_PING_INTERVAL"); v != "" {
		c.Signal.PingInterval = utils.ParseDurationSafe(v, c.Signal.PingInterval)
	}
}
