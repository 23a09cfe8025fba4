package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultWSPath         = "/ws"
	DefaultReadLimitBytes = 16 << 20
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 90 * time.Second
	DefaultOutboxInitial  = 64
	DefaultOutboxMax      = 4096
	DefaultRequestTimeout = 60 * time.Second
	DefaultSweepInterval  = 1 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultMetricsPath    = "/metrics"
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultBatchSize      = 100
	DefaultFlushInterval  = 1 * time.Second
	DefaultBufferSize     = 1000
)

// Default returns a config with every default applied.
func Default() *HubConfig {
	cfg := &HubConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *HubConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.ReadLimitBytes == 0 {
		c.Server.ReadLimitBytes = DefaultReadLimitBytes
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.OutboxInitial == 0 {
		c.Server.OutboxInitial = DefaultOutboxInitial
	}
	if c.Server.OutboxMax == 0 {
		c.Server.OutboxMax = DefaultOutboxMax
	}

	// Routing defaults
	if c.Routing.RequestTimeout == 0 {
		c.Routing.RequestTimeout = DefaultRequestTimeout
	}
	if c.Routing.SweepInterval == 0 {
		c.Routing.SweepInterval = DefaultSweepInterval
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	applyDBDefaults(&c.Database)

	// Audit defaults
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = DefaultBatchSize
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = DefaultFlushInterval
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
