package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPaths are probed in order by LoadFirst.
var DefaultPaths = []string{"configs/config.yaml", "./config.yaml"}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		MaxMissedPings int           `yaml:"max_missed_pings"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		SendQueueSize  int           `yaml:"send_queue_size"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		EchoComments   bool          `yaml:"echo_comments"`
		FormingRoomTTL time.Duration `yaml:"forming_room_ttl"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Persistence struct {
		// Backend is one of memory, redis or sqlite.
		Backend          string        `yaml:"backend"`
		SQLitePath       string        `yaml:"sqlite_path"`
		OperationTimeout time.Duration `yaml:"operation_timeout"`
	} `yaml:"persistence"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		// RequireToken gates websocket accept on a valid access token.
		RequireToken bool `yaml:"require_token"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			// MaxConcurrent caps in-flight requests; zero means unlimited.
			MaxConcurrent int `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Reliability struct {
		MaxRetries       int           `yaml:"max_retries"`
		InitialBackoff   time.Duration `yaml:"initial_backoff"`
		MaxBackoff       time.Duration `yaml:"max_backoff"`
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Events struct {
		Enabled bool   `yaml:"enabled"`
		Channel string `yaml:"channel"`
	} `yaml:"events"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool   `yaml:"enabled"`
		ServiceName    string `yaml:"service_name"`
		JaegerEndpoint string `yaml:"jaeger_endpoint"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
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
	if c.Signal.MaxMissedPings <= 0 {
		return fmt.Errorf("signal.max_missed_pings must be > 0")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}
	if c.Signal.FormingRoomTTL <= 0 {
		return fmt.Errorf("signal.forming_room_ttl must be > 0")
	}
	if c.Signal.SweepInterval <= 0 {
		return fmt.Errorf("signal.sweep_interval must be > 0")
	}

	// WebRTC
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}

	// Persistence
	switch c.Persistence.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("persistence.backend=redis requires redis.enabled=true")
		}
	case "sqlite":
		if c.Persistence.SQLitePath == "" {
			return fmt.Errorf("persistence.sqlite_path must not be empty when backend=sqlite")
		}
	default:
		return fmt.Errorf("persistence.backend must be one of memory, redis, sqlite (got %q)", c.Persistence.Backend)
	}
	if c.Persistence.OperationTimeout <= 0 {
		return fmt.Errorf("persistence.operation_timeout must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("auth.refresh_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Reliability
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("reliability.max_retries must be >= 0")
	}
	if c.Reliability.FailureThreshold <= 0 {
		return fmt.Errorf("reliability.failure_threshold must be > 0")
	}
	if c.Reliability.BreakerTimeout <= 0 {
		return fmt.Errorf("reliability.breaker_timeout must be > 0")
	}

	// Events
	if c.Events.Enabled && c.Events.Channel == "" {
		return fmt.Errorf("events.channel must not be empty when events.enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst loads the first existing file among paths, or defaults when
// none exists. It returns the path that was used, empty for defaults.
func LoadFirst(paths ...string) (*Config, string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	cfg, err := Load("")
	return cfg, "", err
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.MaxMissedPings = 2
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.MaxMessageSize = 1 << 20
	cfg.Signal.EchoComments = true
	cfg.Signal.FormingRoomTTL = 10 * time.Minute
	cfg.Signal.SweepInterval = time.Minute
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Persistence.Backend = "memory"
	cfg.Persistence.SQLitePath = "roomrelay.db"
	cfg.Persistence.OperationTimeout = 5 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour // 7 days
	cfg.Auth.RequireToken = false

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	cfg.Reliability.MaxRetries = 2
	cfg.Reliability.InitialBackoff = 50 * time.Millisecond
	cfg.Reliability.MaxBackoff = time.Second
	cfg.Reliability.FailureThreshold = 5
	cfg.Reliability.SuccessThreshold = 1
	cfg.Reliability.BreakerTimeout = 30 * time.Second

	cfg.Events.Enabled = false
	cfg.Events.Channel = "roomrelay:events"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "roomrelay"
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ROOMRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("ROOMRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("ROOMRELAY_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("ROOMRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if backend := os.Getenv("ROOMRELAY_PERSISTENCE_BACKEND"); backend != "" {
		c.Persistence.Backend = strings.ToLower(backend)
	}
}
