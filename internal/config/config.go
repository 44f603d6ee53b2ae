package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings
// coordinator, keeping deployment knobs out of the business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Presence  *PresenceConfig  `json:"presence"`
	Slack     *SlackConfig     `json:"slack"`
	Movies    *MoviesConfig    `json:"movies"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// AuthConfig covers the admin dashboard JWT and the duplicate-login guard.
type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret"`
	Issuer        string        `json:"issuer"`
	TokenTTL      time.Duration `json:"token_ttl"`
	AdminEmail    string        `json:"admin_email"`
	AdminPassword string        `json:"admin_password"`
	IPHashSecret  string        `json:"ip_hash_secret"`
}

// PresenceConfig tunes the disconnect lease machinery.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	LeaseTTL          time.Duration `json:"lease_ttl"`
	SweepInterval     time.Duration `json:"sweep_interval"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// MoviesConfig configures the warmup-question catalog proxy.
type MoviesConfig struct {
	UpstreamURL string        `json:"upstream_url"`
	CacheTTL    time.Duration `json:"cache_ttl"`
}

// FUNCTIONAL DISCOVERY: Defaults sized for a handful of concurrent interview
// sessions; the 2-minute heartbeat stays well inside the 5-minute lease TTL
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./interviewhub.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			Issuer:       "interviewhub",
			TokenTTL:     12 * time.Hour,
			IPHashSecret: "interviewhub-default-salt",
		},
		Presence: &PresenceConfig{
			HeartbeatInterval: 2 * time.Minute,
			LeaseTTL:          5 * time.Minute,
			SweepInterval:     5 * time.Second,
		},
		Slack:  &SlackConfig{},
		Movies: &MoviesConfig{CacheTTL: time.Hour},
	}
}

// Validate catches invalid configurations before anything starts.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}
	if c.Auth.AdminEmail == "" || c.Auth.AdminPassword == "" {
		return fmt.Errorf("auth admin credentials are required")
	}

	if c.Presence == nil {
		return fmt.Errorf("presence configuration is required")
	}
	if c.Presence.HeartbeatInterval <= 0 || c.Presence.LeaseTTL <= 0 || c.Presence.SweepInterval <= 0 {
		return fmt.Errorf("presence intervals must be positive")
	}
	if c.Presence.HeartbeatInterval >= c.Presence.LeaseTTL {
		return fmt.Errorf("presence heartbeat must be shorter than the lease TTL")
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults with fallback
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("INTERVIEWHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("INTERVIEWHUB_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("INTERVIEWHUB_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if readTimeout := os.Getenv("INTERVIEWHUB_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("INTERVIEWHUB_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}
	if pingInterval := os.Getenv("INTERVIEWHUB_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}
	if bufferSize := os.Getenv("INTERVIEWHUB_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if secret := os.Getenv("INTERVIEWHUB_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if ttl := os.Getenv("INTERVIEWHUB_TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Auth.TokenTTL = d
		}
	}
	if email := os.Getenv("INTERVIEWHUB_ADMIN_EMAIL"); email != "" {
		config.Auth.AdminEmail = email
	}
	if password := os.Getenv("INTERVIEWHUB_ADMIN_PASSWORD"); password != "" {
		config.Auth.AdminPassword = password
	}
	if salt := os.Getenv("INTERVIEWHUB_IP_HASH_SECRET"); salt != "" {
		config.Auth.IPHashSecret = salt
	}

	if heartbeat := os.Getenv("INTERVIEWHUB_PRESENCE_HEARTBEAT"); heartbeat != "" {
		if d, err := time.ParseDuration(heartbeat); err == nil {
			config.Presence.HeartbeatInterval = d
		}
	}
	if ttl := os.Getenv("INTERVIEWHUB_PRESENCE_LEASE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Presence.LeaseTTL = d
		}
	}

	if webhook := os.Getenv("INTERVIEWHUB_SLACK_WEBHOOK_URL"); webhook != "" {
		config.Slack.WebhookURL = webhook
	}
	if upstream := os.Getenv("INTERVIEWHUB_MOVIES_UPSTREAM_URL"); upstream != "" {
		config.Movies.UpstreamURL = upstream
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing; durations arrive as strings.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Presence  *PresenceConfigFile  `json:"presence"`
	Slack     *SlackConfig         `json:"slack"`
	Movies    *MoviesConfigFile    `json:"movies"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type AuthConfigFile struct {
	JWTSecret     string `json:"jwt_secret"`
	Issuer        string `json:"issuer"`
	TokenTTL      string `json:"token_ttl"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
	IPHashSecret  string `json:"ip_hash_secret"`
}

type PresenceConfigFile struct {
	HeartbeatInterval string `json:"heartbeat_interval"`
	LeaseTTL          string `json:"lease_ttl"`
	SweepInterval     string `json:"sweep_interval"`
}

type MoviesConfigFile struct {
	UpstreamURL string `json:"upstream_url"`
	CacheTTL    string `json:"cache_ttl"`
}

// LoadFromFile reads a JSON config, overlaying it on the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		applyDuration(&config.Database.Timeout, configFile.Database.Timeout)
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		applyDuration(&config.HTTP.ReadTimeout, configFile.HTTP.ReadTimeout)
		applyDuration(&config.HTTP.WriteTimeout, configFile.HTTP.WriteTimeout)
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		applyDuration(&config.WebSocket.PingInterval, configFile.WebSocket.PingInterval)
		applyDuration(&config.WebSocket.ReadTimeout, configFile.WebSocket.ReadTimeout)
		applyDuration(&config.WebSocket.WriteTimeout, configFile.WebSocket.WriteTimeout)
	}

	if configFile.Auth != nil {
		if configFile.Auth.JWTSecret != "" {
			config.Auth.JWTSecret = configFile.Auth.JWTSecret
		}
		if configFile.Auth.Issuer != "" {
			config.Auth.Issuer = configFile.Auth.Issuer
		}
		if configFile.Auth.AdminEmail != "" {
			config.Auth.AdminEmail = configFile.Auth.AdminEmail
		}
		if configFile.Auth.AdminPassword != "" {
			config.Auth.AdminPassword = configFile.Auth.AdminPassword
		}
		if configFile.Auth.IPHashSecret != "" {
			config.Auth.IPHashSecret = configFile.Auth.IPHashSecret
		}
		applyDuration(&config.Auth.TokenTTL, configFile.Auth.TokenTTL)
	}

	if configFile.Presence != nil {
		applyDuration(&config.Presence.HeartbeatInterval, configFile.Presence.HeartbeatInterval)
		applyDuration(&config.Presence.LeaseTTL, configFile.Presence.LeaseTTL)
		applyDuration(&config.Presence.SweepInterval, configFile.Presence.SweepInterval)
	}

	if configFile.Slack != nil && configFile.Slack.WebhookURL != "" {
		config.Slack.WebhookURL = configFile.Slack.WebhookURL
	}

	if configFile.Movies != nil {
		if configFile.Movies.UpstreamURL != "" {
			config.Movies.UpstreamURL = configFile.Movies.UpstreamURL
		}
		applyDuration(&config.Movies.CacheTTL, configFile.Movies.CacheTTL)
	}

	return config, nil
}

func applyDuration(dst *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*dst = d
	}
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// Silently ignore file errors - environment/defaults still work
	}

	return config
}
