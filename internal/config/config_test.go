package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
server:
  listen_addr: 127.0.0.1:9000
  ws_path: /hub
  allowed_origins:
    - http://localhost:3000
routing:
  request_timeout: 30s
  broadcast_connection_events: false
database:
  enabled: true
  host: localhost
  port: 5433
  name: hub
  user: hub
  password: hubpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:9000")
	}
	if cfg.Server.WSPath != "/hub" {
		t.Errorf("Server.WSPath = %q, want %q", cfg.Server.WSPath, "/hub")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Routing.RequestTimeout != 30*time.Second {
		t.Errorf("Routing.RequestTimeout = %v, want 30s", cfg.Routing.RequestTimeout)
	}
	if cfg.Routing.ConnectionEvents() {
		t.Error("Routing.ConnectionEvents() = true, want false")
	}
	if !cfg.Database.Enabled || cfg.Database.Port != 5433 {
		t.Errorf("Database = %+v", cfg.Database)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("Server.ListenAddr = %q, want empty", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_HUB_TOKEN", "secret123")

	yaml := `
auth:
  token: ${TEST_HUB_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "secret123" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "server:\n  listen_addr: :9999\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q, want :9999", cfg.Server.ListenAddr)
	}
	if cfg.Server.WSPath != DefaultWSPath {
		t.Errorf("Server.WSPath = %q, want default %q", cfg.Server.WSPath, DefaultWSPath)
	}
	if cfg.Server.ReadLimitBytes != 16<<20 {
		t.Errorf("Server.ReadLimitBytes = %d, want 16 MiB", cfg.Server.ReadLimitBytes)
	}
	if cfg.Routing.RequestTimeout != 60*time.Second {
		t.Errorf("Routing.RequestTimeout = %v, want 60s", cfg.Routing.RequestTimeout)
	}
	if cfg.Routing.SweepInterval != DefaultSweepInterval {
		t.Errorf("Routing.SweepInterval = %v, want default %v", cfg.Routing.SweepInterval, DefaultSweepInterval)
	}
	if !cfg.Routing.ConnectionEvents() {
		t.Error("Routing.ConnectionEvents() = false, want default true")
	}
	if !cfg.Metrics.On() || cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics = %+v, want enabled at %q", cfg.Metrics, DefaultMetricsPath)
	}
	if cfg.Database.Enabled {
		t.Error("Database.Enabled = true, want default false")
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Audit.BatchSize != DefaultBatchSize {
		t.Errorf("Audit.BatchSize = %d, want default %d", cfg.Audit.BatchSize, DefaultBatchSize)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENTHUB_LISTEN_ADDR", ":7000")
	t.Setenv("AGENTHUB_AUTH_TOKEN", "env-token")
	t.Setenv("AGENTHUB_LOG_LEVEL", "debug")
	t.Setenv("AGENTHUB_DB_ENABLED", "true")
	t.Setenv("AGENTHUB_DB_HOST", "db.internal")
	t.Setenv("AGENTHUB_DB_PORT", "6543")

	path := writeTempFile(t, `
server:
  listen_addr: :8000
auth:
  token: file-token
database:
  name: hub
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("Server.ListenAddr = %q, want env value :7000", cfg.Server.ListenAddr)
	}
	if cfg.Auth.Token != "env-token" {
		t.Errorf("Auth.Token = %q, want env-token", cfg.Auth.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Database.Enabled {
		t.Error("Database.Enabled = false, want true from env")
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Errorf("Database host/port = %s:%d, want db.internal:6543", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Name != "hub" {
		t.Errorf("Database.Name = %q, want file value hub", cfg.Database.Name)
	}
}

func TestApplyEnv_BadBool(t *testing.T) {
	t.Setenv("AGENTHUB_DB_ENABLED", "sometimes")

	cfg := &HubConfig{}
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("ApplyEnv accepted a non-boolean AGENTHUB_DB_ENABLED")
	}
}

func TestLoadAndValidate_NoFile(t *testing.T) {
	cfg, err := LoadAndValidate("")
	if err != nil {
		t.Fatalf("LoadAndValidate(\"\") failed: %v", err)
	}
	if cfg.Server.ListenAddr == "" {
		t.Error("Server.ListenAddr empty after defaults")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *HubConfig { return Default() }

	tests := []struct {
		name    string
		mutate  func(c *HubConfig)
		wantErr string
	}{
		{
			name:    "defaults",
			mutate:  func(c *HubConfig) {},
			wantErr: "",
		},
		{
			name:    "missing listen addr",
			mutate:  func(c *HubConfig) { c.Server.ListenAddr = "" },
			wantErr: "server.listen_addr is required",
		},
		{
			name:    "relative ws path",
			mutate:  func(c *HubConfig) { c.Server.WSPath = "ws" },
			wantErr: `server.ws_path must start with /, got "ws"`,
		},
		{
			name: "pong timeout not above ping interval",
			mutate: func(c *HubConfig) {
				c.Server.PingInterval = 30 * time.Second
				c.Server.PongTimeout = 30 * time.Second
			},
			wantErr: "server.pong_timeout (30s) must exceed ping_interval (30s)",
		},
		{
			name: "outbox max below initial",
			mutate: func(c *HubConfig) {
				c.Server.OutboxInitial = 64
				c.Server.OutboxMax = 32
			},
			wantErr: "server.outbox_max (32) cannot be below outbox_initial (64)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *HubConfig) { c.Logging.Level = "verbose" },
			wantErr: `logging.level must be debug, info, warn or error, got "verbose"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *HubConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "metrics path collides with ws path",
			mutate:  func(c *HubConfig) { c.Metrics.Path = c.Server.WSPath },
			wantErr: `metrics.path collides with server.ws_path "/ws"`,
		},
		{
			name: "metrics disabled skips path check",
			mutate: func(c *HubConfig) {
				off := false
				c.Metrics.Enabled = &off
				c.Metrics.Path = "metrics"
			},
			wantErr: "",
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *HubConfig) { c.Database.Enabled = true },
			wantErr: "database.host is required",
		},
		{
			name: "database min_conns exceeds max_conns",
			mutate: func(c *HubConfig) {
				c.Database = DBConfig{Enabled: true, Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name: "database disabled ignores missing fields",
			mutate: func(c *HubConfig) {
				c.Database = DBConfig{}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoggingConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for level, want := range tests {
		if got := (LoggingConfig{Level: level}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestLoadCliConfig(t *testing.T) {
	t.Setenv("AGENTHUB_URL", "http://hub.local:9000")
	t.Setenv("AGENTHUB_TOKEN", "tok")

	cfg, err := LoadCliConfig()
	if err != nil {
		t.Fatalf("LoadCliConfig failed: %v", err)
	}
	if cfg.URL != "http://hub.local:9000" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.Token != "tok" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want default 10s", cfg.Timeout)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
