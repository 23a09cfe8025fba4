package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// CliConfig is the environment-only configuration used by hubctl.
type CliConfig struct {
	URL     string        `envconfig:"AGENTHUB_URL" default:"http://localhost:8080"`
	Token   string        `envconfig:"AGENTHUB_TOKEN"`
	Timeout time.Duration `envconfig:"AGENTHUB_TIMEOUT" default:"10s"`
}

func LoadCliConfig() (CliConfig, error) {
	_ = godotenv.Load()

	var cfg CliConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		return CliConfig{}, err
	}
	return cfg, nil
}
