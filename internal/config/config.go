package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Upstream follower source configuration
	Upstream UpstreamConfig

	// Merge queue configuration
	Queue QueueConfig

	// Client playback configuration
	Playback PlaybackConfig

	// Client transport configuration
	Transport TransportConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// WebSocket configuration
	WebSocket WebSocketConfig

	// Local storage configuration
	Storage StorageConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	PortProbeCount  int // how many consecutive ports to try when Port is taken
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// UpstreamConfig holds configuration for the follower source API
type UpstreamConfig struct {
	GameAPIBase    string
	ChzzkAPIBase   string
	PageSize       int
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// QueueConfig holds merge queue retention configuration
type QueueConfig struct {
	TestTTL time.Duration
	RealTTL time.Duration
}

// PlaybackConfig holds overlay playback timing configuration
type PlaybackConfig struct {
	DisplayDuration time.Duration
	Cooldown        time.Duration
	CatchUpWindow   time.Duration
}

// TransportConfig holds client WebSocket transport configuration
type TransportConfig struct {
	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffFactor        float64
	BackoffMax           time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	TestAlertRPS      float64 // Stricter limit for the test alert endpoint
	TestAlertBurst    int
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongWait        time.Duration
}

// StorageConfig holds local storage configuration
type StorageConfig struct {
	DataDir   string
	Retention time.Duration // how long recorded follower events are kept
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvOrDefault("SERVER_HOST", "127.0.0.1"),
			Port:            getIntOrDefault("SERVER_PORT", 8090),
			PortProbeCount:  getIntOrDefault("SERVER_PORT_PROBE_COUNT", 10),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Upstream: UpstreamConfig{
			GameAPIBase:    getEnvOrDefault("UPSTREAM_GAME_API_BASE", "https://comm-api.game.naver.com"),
			ChzzkAPIBase:   getEnvOrDefault("UPSTREAM_CHZZK_API_BASE", "https://api.chzzk.naver.com"),
			PageSize:       getIntOrDefault("UPSTREAM_PAGE_SIZE", 10),
			PollInterval:   getDurationOrDefault("UPSTREAM_POLL_INTERVAL", 5*time.Second),
			RequestTimeout: getDurationOrDefault("UPSTREAM_REQUEST_TIMEOUT", 5*time.Second),
		},
		Queue: QueueConfig{
			TestTTL: getDurationOrDefault("QUEUE_TEST_TTL", 10*time.Second),
			RealTTL: getDurationOrDefault("QUEUE_REAL_TTL", 30*time.Second),
		},
		Playback: PlaybackConfig{
			DisplayDuration: getDurationOrDefault("PLAYBACK_DISPLAY_DURATION", 5*time.Second),
			Cooldown:        getDurationOrDefault("PLAYBACK_COOLDOWN", 500*time.Millisecond),
			CatchUpWindow:   getDurationOrDefault("PLAYBACK_CATCHUP_WINDOW", time.Hour),
		},
		Transport: TransportConfig{
			ConnectTimeout:       getDurationOrDefault("TRANSPORT_CONNECT_TIMEOUT", 10*time.Second),
			PingInterval:         getDurationOrDefault("TRANSPORT_PING_INTERVAL", 30*time.Second),
			MaxReconnectAttempts: getIntOrDefault("TRANSPORT_MAX_RECONNECT_ATTEMPTS", 10),
			BackoffBase:          getDurationOrDefault("TRANSPORT_BACKOFF_BASE", time.Second),
			BackoffFactor:        getFloatOrDefault("TRANSPORT_BACKOFF_FACTOR", 1.5),
			BackoffMax:           getDurationOrDefault("TRANSPORT_BACKOFF_MAX", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 10),
			BurstSize:         getIntOrDefault("RATE_LIMIT_BURST", 20),
			TestAlertRPS:      getFloatOrDefault("RATE_LIMIT_TEST_ALERT_RPS", 1),
			TestAlertBurst:    getIntOrDefault("RATE_LIMIT_TEST_ALERT_BURST", 5),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getIntOrDefault("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getIntOrDefault("WS_WRITE_BUFFER_SIZE", 1024),
			PingInterval:    getDurationOrDefault("WS_PING_INTERVAL", 54*time.Second),
			PongWait:        getDurationOrDefault("WS_PONG_WAIT", 60*time.Second),
		},
		Storage: StorageConfig{
			DataDir:   getEnvOrDefault("STORAGE_DATA_DIR", defaultDataDir()),
			Retention: getDurationOrDefault("STORAGE_RETENTION", 30*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "follow-notifier"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}

	if c.Server.PortProbeCount < 1 {
		errs = append(errs, "SERVER_PORT_PROBE_COUNT must be at least 1")
	}

	if c.Upstream.PollInterval < time.Second {
		errs = append(errs, "UPSTREAM_POLL_INTERVAL must be at least 1s")
	}

	if c.Upstream.PageSize < 1 {
		errs = append(errs, "UPSTREAM_PAGE_SIZE must be at least 1")
	}

	if c.Queue.TestTTL <= 0 || c.Queue.RealTTL <= 0 {
		errs = append(errs, "QUEUE_TEST_TTL and QUEUE_REAL_TTL must be positive")
	}

	if c.Transport.BackoffFactor < 1 {
		errs = append(errs, "TRANSPORT_BACKOFF_FACTOR must be at least 1")
	}

	if c.Transport.BackoffMax < c.Transport.BackoffBase {
		errs = append(errs, "TRANSPORT_BACKOFF_MAX cannot be less than TRANSPORT_BACKOFF_BASE")
	}

	if c.Transport.MaxReconnectAttempts < 1 {
		errs = append(errs, "TRANSPORT_MAX_RECONNECT_ATTEMPTS must be at least 1")
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, "STORAGE_DATA_DIR is required")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Addr returns the server listen address for the given port
func (c *Config) Addr(port int) string {
	return fmt.Sprintf("%s:%d", c.Server.Host, port)
}

// defaultDataDir resolves the per-user data directory, falling back to the
// working directory when the home directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".follow-notifier"
	}
	return filepath.Join(home, ".follow-notifier")
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, DataDir: %s, PollInterval: %s, RateLimit: %v, Environment: %s}",
		c.Addr(c.Server.Port),
		c.Storage.DataDir,
		c.Upstream.PollInterval,
		c.RateLimit.Enabled,
		c.App.Environment,
	)
}
