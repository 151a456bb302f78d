package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration, loaded from environment variables.
type Config struct {
	Addr     string `env:"RECRU_ADDR" envDefault:":8080"`
	LogLevel string `env:"RECRU_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"RECRU_LOG_JSON" envDefault:"false"`
	LogColor bool   `env:"RECRU_LOG_COLOR" envDefault:"true"`
	Prod     bool   `env:"RECRU_PROD" envDefault:"false"`

	// StorePath selects the SQLite database file. Empty keeps everything in
	// memory.
	StorePath string `env:"RECRU_STORE_PATH"`

	// AdminEmail/AdminPassword seed the one admin account on first start.
	AdminEmail    string `env:"RECRU_ADMIN_EMAIL"`
	AdminPassword string `env:"RECRU_ADMIN_PASSWORD"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
