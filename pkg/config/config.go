package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Relay struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxRoomClients  int           `yaml:"max_room_clients"`
	} `yaml:"relay"`

	Station struct {
		RelayURL       string        `yaml:"relay_url"`
		Room           string        `yaml:"room"`
		Callsign       string        `yaml:"callsign"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		MetricsAddress string        `yaml:"metrics_address"`
	} `yaml:"station"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
		Beacon             bool          `yaml:"beacon"`
	} `yaml:"webrtc"`

	Failover struct {
		StatsInterval     time.Duration `yaml:"stats_interval"`
		AlertThrottle     time.Duration `yaml:"alert_throttle"`
		BackoffBase       time.Duration `yaml:"backoff_base"`
		BackoffCap        time.Duration `yaml:"backoff_cap"`
		BackoffMaxExp     int           `yaml:"backoff_max_exp"`
		EngageRiskScore   int           `yaml:"engage_risk_score"`
		RecoverRiskScore  int           `yaml:"recover_risk_score"`
		AlertHistoryLimit int           `yaml:"alert_history_limit"`
	} `yaml:"failover"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled      bool          `yaml:"enabled"`
		JWTSecret    string        `yaml:"jwt_secret"`
		RoomTokenTTL time.Duration `yaml:"room_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		Signaling struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"signaling"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.MaxRoomClients < 2 {
		return fmt.Errorf("relay.max_room_clients must be >= 2")
	}

	if c.Station.RelayURL == "" {
		return fmt.Errorf("station.relay_url must not be empty")
	}
	if c.Station.ConnectTimeout <= 0 {
		return fmt.Errorf("station.connect_timeout must be > 0")
	}

	if c.WebRTC.NegotiationTimeout <= 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be > 0")
	}

	if c.Failover.StatsInterval <= 0 {
		return fmt.Errorf("failover.stats_interval must be > 0")
	}
	if c.Failover.AlertThrottle <= 0 {
		return fmt.Errorf("failover.alert_throttle must be > 0")
	}
	if c.Failover.BackoffBase <= 0 {
		return fmt.Errorf("failover.backoff_base must be > 0")
	}
	if c.Failover.BackoffCap < c.Failover.BackoffBase {
		return fmt.Errorf("failover.backoff_cap must be >= backoff_base")
	}
	if c.Failover.BackoffMaxExp < 0 {
		return fmt.Errorf("failover.backoff_max_exp must be >= 0")
	}
	if c.Failover.EngageRiskScore < 0 || c.Failover.EngageRiskScore > 100 {
		return fmt.Errorf("failover.engage_risk_score must be in [0,100]")
	}
	if c.Failover.RecoverRiskScore < 0 || c.Failover.RecoverRiskScore >= c.Failover.EngageRiskScore {
		return fmt.Errorf("failover.recover_risk_score must be in [0, engage_risk_score)")
	}
	if c.Failover.AlertHistoryLimit <= 0 {
		return fmt.Errorf("failover.alert_history_limit must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.RoomTokenTTL <= 0 {
			return fmt.Errorf("auth.room_token_ttl must be > 0 when auth.enabled=true")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signaling.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.signaling.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signaling.Burst <= 0 {
			return fmt.Errorf("rate_limiting.signaling.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0,1]")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
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

	cfg.Relay.Address = ":8090"
	cfg.Relay.PingInterval = 25 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second
	cfg.Relay.MaxRoomClients = 2

	cfg.Station.RelayURL = "ws://localhost:8090/ws"
	cfg.Station.ConnectTimeout = 10 * time.Second
	cfg.Station.MetricsAddress = ":9091"

	cfg.WebRTC.NegotiationTimeout = 30 * time.Second
	cfg.WebRTC.Beacon = true

	cfg.Failover.StatsInterval = 5 * time.Second
	cfg.Failover.AlertThrottle = 20 * time.Second
	cfg.Failover.BackoffBase = 1 * time.Second
	cfg.Failover.BackoffCap = 15 * time.Second
	cfg.Failover.BackoffMaxExp = 4
	cfg.Failover.EngageRiskScore = 80
	cfg.Failover.RecoverRiskScore = 30
	cfg.Failover.AlertHistoryLimit = 1000

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.RoomTokenTTL = 24 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.Signaling.MessagesPerSecond = 50
	cfg.RateLimiting.Signaling.Burst = 100

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "comlink-relay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("COMLINK_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if url := os.Getenv("COMLINK_RELAY_URL"); url != "" {
		c.Station.RelayURL = url
	}
	if room := os.Getenv("COMLINK_ROOM"); room != "" {
		c.Station.Room = room
	}
	if level := os.Getenv("COMLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("COMLINK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("COMLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
