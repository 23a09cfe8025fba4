package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *HubConfig) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if c.Server.ReadLimitBytes < 1 {
		return errors.New("server.read_limit_bytes must be >= 1")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be positive")
	}
	if c.Server.PingInterval <= 0 {
		return errors.New("server.ping_interval must be positive")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout (%v) must exceed ping_interval (%v)", c.Server.PongTimeout, c.Server.PingInterval)
	}
	if c.Server.OutboxInitial < 1 {
		return errors.New("server.outbox_initial must be >= 1")
	}
	if c.Server.OutboxMax < c.Server.OutboxInitial {
		return fmt.Errorf("server.outbox_max (%d) cannot be below outbox_initial (%d)", c.Server.OutboxMax, c.Server.OutboxInitial)
	}

	if c.Routing.RequestTimeout <= 0 {
		return errors.New("routing.request_timeout must be positive")
	}
	if c.Routing.SweepInterval <= 0 {
		return errors.New("routing.sweep_interval must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.On() {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
		if c.Metrics.Path == c.Server.WSPath {
			return fmt.Errorf("metrics.path collides with server.ws_path %q", c.Metrics.Path)
		}
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Audit.BatchSize < 1 {
			return errors.New("audit.batch_size must be >= 1")
		}
		if c.Audit.BufferSize < 1 {
			return errors.New("audit.buffer_size must be >= 1")
		}
		if c.Audit.FlushInterval <= 0 {
			return errors.New("audit.flush_interval must be positive")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
