package config

import (
	"log/slog"
	"time"
)

// HubConfig is the root configuration for a hub instance.
type HubConfig struct {
	Server   ServerConfig  `yaml:"server"`
	Routing  RoutingConfig `yaml:"routing"`
	Auth     AuthConfig    `yaml:"auth"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Database DBConfig      `yaml:"database"`
	Audit    AuditConfig   `yaml:"audit"`
}

// ServerConfig holds the HTTP listener and per-socket settings.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	WSPath         string        `yaml:"ws_path"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // empty allows any origin
	ReadLimitBytes int64         `yaml:"read_limit_bytes"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	OutboxInitial  int           `yaml:"outbox_initial"`
	OutboxMax      int           `yaml:"outbox_max"`
}

// RoutingConfig holds request correlation settings.
type RoutingConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`

	// BroadcastConnectionEvents defaults to true when unset.
	BroadcastConnectionEvents *bool `yaml:"broadcast_connection_events"`
}

// ConnectionEvents reports whether observers are told about register and
// disconnect events.
func (r RoutingConfig) ConnectionEvents() bool {
	return r.BroadcastConnectionEvents == nil || *r.BroadcastConnectionEvents
}

// AuthConfig holds the optional shared token required on upgrade.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SlogLevel maps Level onto slog. Unknown values fall back to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// On reports whether /metrics is served.
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}

// DBConfig holds the audit database connection.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// AuditConfig holds batch writer settings for the connection journal.
// The journal runs only when the database is enabled.
type AuditConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}
