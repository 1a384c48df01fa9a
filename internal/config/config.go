package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Mode      string          `mapstructure:"mode"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Classroom ClassroomConfig `mapstructure:"classroom"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Log       LogConfig       `mapstructure:"log"`
}

// HTTPConfig configures the gin server.
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig configures the SQLite session repository.
type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebSocketConfig tunes the connection layer.
type WebSocketConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`

	// CloseGrace is how long an error payload is given to flush before a
	// rejected connection is closed.
	CloseGrace time.Duration `mapstructure:"close_grace"`
}

// ClassroomConfig tunes the classroom-code directory.
type ClassroomConfig struct {
	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ReaperConfig tunes the session lifecycle reaper.
type ReaperConfig struct {
	Interval time.Duration `mapstructure:"interval"`

	// EmptyPresenterTimeout ends active sessions that never gained a
	// listener, measured from start time.
	EmptyPresenterTimeout time.Duration `mapstructure:"empty_presenter_timeout"`

	// AbandonedGrace is the inactivity window after all listeners left
	// before the session is considered abandoned.
	AbandonedGrace time.Duration `mapstructure:"abandoned_grace"`

	// StaleThreshold is the broad inactivity limit for any active session.
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`

	// RejoinWindow bounds how far back presenter-reconnect deduplication
	// looks for a recent session to reactivate.
	RejoinWindow time.Duration `mapstructure:"rejoin_window"`
}

// BroadcastConfig tunes the fan-out orchestrator.
type BroadcastConfig struct {
	MaxDeliveryAttempts int    `mapstructure:"max_delivery_attempts"`
	FallbackLanguage    string `mapstructure:"fallback_language"`
	AuditEnabled        bool   `mapstructure:"audit_enabled"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when
// the file is absent. Every value has a default, so a bare process starts.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Defaults carry the process; a missing file is not fatal.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("database.path", "./lectern.db")
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("websocket.read_limit", 1<<20)
	v.SetDefault("websocket.ping_period", "30s")
	v.SetDefault("websocket.read_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "5s")
	v.SetDefault("websocket.send_buffer", 100)
	v.SetDefault("websocket.close_grace", "100ms")

	v.SetDefault("classroom.code_ttl", "2h")
	v.SetDefault("classroom.cleanup_interval", "10m")

	v.SetDefault("reaper.interval", "2m")
	v.SetDefault("reaper.empty_presenter_timeout", "15m")
	v.SetDefault("reaper.abandoned_grace", "10m")
	v.SetDefault("reaper.stale_threshold", "90m")
	v.SetDefault("reaper.rejoin_window", "10m")

	v.SetDefault("broadcast.max_delivery_attempts", 3)
	v.SetDefault("broadcast.fallback_language", "en")
	v.SetDefault("broadcast.audit_enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("websocket ping period must be shorter than read timeout")
	}
	if c.Classroom.CodeTTL <= 0 {
		return fmt.Errorf("classroom code TTL must be positive")
	}
	if c.Classroom.CleanupInterval <= 0 {
		return fmt.Errorf("classroom cleanup interval must be positive")
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper interval must be positive")
	}
	if c.Reaper.EmptyPresenterTimeout <= 0 {
		return fmt.Errorf("reaper empty presenter timeout must be positive")
	}
	if c.Reaper.AbandonedGrace <= 0 {
		return fmt.Errorf("reaper abandoned grace must be positive")
	}
	if c.Reaper.StaleThreshold <= c.Reaper.AbandonedGrace {
		return fmt.Errorf("reaper stale threshold must exceed the abandoned grace window")
	}
	if c.Broadcast.MaxDeliveryAttempts <= 0 {
		return fmt.Errorf("broadcast max delivery attempts must be positive")
	}
	if c.Broadcast.FallbackLanguage == "" {
		return fmt.Errorf("broadcast fallback language cannot be empty")
	}
	return nil
}
