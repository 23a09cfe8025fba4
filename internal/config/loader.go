package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands environment variables.
// An empty path yields an empty config.
func Load(path string) (*HubConfig, error) {
	var cfg HubConfig
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config, applies AGENTHUB_* overrides and then
// default values.
func LoadWithDefaults(path string) (*HubConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies overrides and defaults, and validates.
func LoadAndValidate(path string) (*HubConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envOverrides are the settings that can be changed without editing the
// YAML file. Empty values leave the file's value in place.
type envOverrides struct {
	ListenAddr string `envconfig:"AGENTHUB_LISTEN_ADDR"`
	AuthToken  string `envconfig:"AGENTHUB_AUTH_TOKEN"`
	LogLevel   string `envconfig:"AGENTHUB_LOG_LEVEL"`
	LogFormat  string `envconfig:"AGENTHUB_LOG_FORMAT"`

	DBEnabled  string `envconfig:"AGENTHUB_DB_ENABLED"`
	DBHost     string `envconfig:"AGENTHUB_DB_HOST"`
	DBPort     int    `envconfig:"AGENTHUB_DB_PORT"`
	DBName     string `envconfig:"AGENTHUB_DB_NAME"`
	DBUser     string `envconfig:"AGENTHUB_DB_USER"`
	DBPassword string `envconfig:"AGENTHUB_DB_PASSWORD"`
	DBSSLMode  string `envconfig:"AGENTHUB_DB_SSL_MODE"`
}

// ApplyEnv loads an optional .env file from the working directory and
// applies AGENTHUB_* variables over the current values.
func (c *HubConfig) ApplyEnv() error {
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString(&c.Server.ListenAddr, env.ListenAddr)
	setString(&c.Auth.Token, env.AuthToken)
	setString(&c.Logging.Level, env.LogLevel)
	setString(&c.Logging.Format, env.LogFormat)

	if env.DBEnabled != "" {
		enabled, err := strconv.ParseBool(env.DBEnabled)
		if err != nil {
			return fmt.Errorf("AGENTHUB_DB_ENABLED: %w", err)
		}
		c.Database.Enabled = enabled
	}
	setString(&c.Database.Host, env.DBHost)
	if env.DBPort != 0 {
		c.Database.Port = env.DBPort
	}
	setString(&c.Database.Name, env.DBName)
	setString(&c.Database.User, env.DBUser)
	setString(&c.Database.Password, env.DBPassword)
	setString(&c.Database.SSLMode, env.DBSSLMode)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
